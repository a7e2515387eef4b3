package quizapp

import (
	"os"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds the runtime settings shared by the commands
type Config struct {
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	DBDriver string // sqlite3 | postgres
	DBDSN    string

	Port          string
	SessionSecret string
	RedisAddr     string
	LLMLogDir     string
	LogMode       string
	Verbose       bool

	QuestionsPerAttempt int
	TimeLimit           time.Duration
	GenerationTimeout   time.Duration
	MaxRetries          int
	SeenWindow          time.Duration
	StaleGenerating     time.Duration
}

// LoadConfig reads the configuration from the environment
func LoadConfig() Config {
	return Config{
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   envOr("OPENAI_MODEL", openai.GPT4o),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),

		DBDriver: envOr("DB_DRIVER", "sqlite3"),
		DBDSN:    envOr("DB_DSN", "./quiz.db"),

		Port:          envOr("PORT", "8180"),
		SessionSecret: envOr("SESSION_SECRET", "your-secret-key-here"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		LLMLogDir:     os.Getenv("LLM_LOG_DIR"),
		LogMode:       envOr("LOG_MODE", "dev"),
		Verbose:       envBool("VERBOSE", false),

		QuestionsPerAttempt: envInt("QUESTIONS_PER_ATTEMPT", DefaultQuestionsPerAttempt),
		TimeLimit:           time.Duration(envInt("TIME_LIMIT_SECONDS", DefaultTimeLimitSeconds)) * time.Second,
		GenerationTimeout:   time.Duration(envInt("GENERATION_TIMEOUT_SECONDS", 45)) * time.Second,
		MaxRetries:          envInt("SOURCING_MAX_RETRIES", 3),
		SeenWindow:          time.Duration(envInt("SEEN_WINDOW_DAYS", 7)) * 24 * time.Hour,
		StaleGenerating:     time.Duration(envInt("STALE_GENERATING_MINUTES", 15)) * time.Minute,
	}
}

// SourceConfig derives the question sourcing settings
func (c Config) SourceConfig() SourceConfig {
	sc := DefaultSourceConfig()
	if c.MaxRetries > 0 {
		sc.MaxRetries = c.MaxRetries
	}
	if c.SeenWindow > 0 {
		sc.SeenWindow = c.SeenWindow
	}
	if c.GenerationTimeout > 0 {
		sc.GenerationTimeout = c.GenerationTimeout
	}
	sc.TranscriptDir = c.LLMLogDir
	sc.Model = c.OpenAIModel
	return sc
}

// EngineConfig derives the attempt lifecycle settings
func (c Config) EngineConfig() EngineConfig {
	ec := DefaultEngineConfig()
	if c.QuestionsPerAttempt > 0 {
		ec.QuestionsPerAttempt = c.QuestionsPerAttempt
	}
	if c.TimeLimit > 0 {
		ec.TimeLimitSeconds = int(c.TimeLimit / time.Second)
	}
	return ec
}

func envOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
