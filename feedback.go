package quizapp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
)

const (
	strongTopicScore   = 75.0
	weakTopicScore     = 50.0
	weakConceptRate    = 50.0
	minConceptAnswers  = 2
	feedbackTimeout    = 30 * time.Second
	FallbackFeedback   = "Keep practicing! Review the questions you missed and retry the topics where your score was lowest."
	noAttemptsFeedback = "Complete a quiz to get personalised feedback."
)

// PerformanceSummary condenses a user's completed attempts for the feedback generator
type PerformanceSummary struct {
	QuizzesCompleted      int                    `json:"quizzes_completed"`
	OverallAccuracy       float64                `json:"overall_accuracy"`
	AvgTimePerQuestion    float64                `json:"avg_time_per_question"`
	DifficultyPerformance map[Difficulty]float64 `json:"difficulty_performance"`
	StrongTopics          []string               `json:"strong_topics"`
	WeakTopics            []string               `json:"weak_topics"`
	WeakConcepts          []string               `json:"weak_concepts"`
}

// BuildPerformanceSummary computes the summary over the completed attempts in attempts
func BuildPerformanceSummary(attempts []QuizAttempt) PerformanceSummary {
	s := PerformanceSummary{DifficultyPerformance: make(map[Difficulty]float64)}

	var (
		correct, total, answered, seconds int
		topicSum                          = make(map[string]float64)
		topicCount                        = make(map[string]int)
		diffSum                           = make(map[Difficulty]float64)
		diffCount                         = make(map[Difficulty]int)
		conceptRight                      = make(map[string]int)
		conceptSeen                       = make(map[string]int)
	)
	for i := range attempts {
		a := &attempts[i]
		if a.Status != StatusCompleted {
			continue
		}
		s.QuizzesCompleted++
		correct += a.CorrectAnswers
		total += a.TotalQuestions
		answered += a.AttemptedQuestions
		seconds += a.TimeTakenSeconds

		topic := a.SubCategoryName
		if topic == "" {
			topic = a.CategoryName
		}
		topicSum[topic] += a.Score
		topicCount[topic]++
		diffSum[a.Difficulty] += a.Score
		diffCount[a.Difficulty]++

		for _, q := range a.Questions {
			if q.Concept == "" || !q.Answered() {
				continue
			}
			conceptSeen[q.Concept]++
			if q.IsCorrect != nil && *q.IsCorrect {
				conceptRight[q.Concept]++
			}
		}
	}

	s.OverallAccuracy = round2(Score(correct, total))
	if answered > 0 {
		s.AvgTimePerQuestion = round2(float64(seconds) / float64(answered))
	}
	for d, n := range diffCount {
		s.DifficultyPerformance[d] = round2(diffSum[d] / float64(n))
	}
	for topic, n := range topicCount {
		avg := topicSum[topic] / float64(n)
		switch {
		case avg >= strongTopicScore:
			s.StrongTopics = append(s.StrongTopics, topic)
		case avg < weakTopicScore:
			s.WeakTopics = append(s.WeakTopics, topic)
		}
	}
	for concept, n := range conceptSeen {
		if n >= minConceptAnswers && Score(conceptRight[concept], n) < weakConceptRate {
			s.WeakConcepts = append(s.WeakConcepts, concept)
		}
	}
	sort.Strings(s.StrongTopics)
	sort.Strings(s.WeakTopics)
	sort.Strings(s.WeakConcepts)
	return s
}

// Hash identifies the summary contents for feedback caching
func (s PerformanceSummary) Hash() string {
	data, _ := json.Marshal(s)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FeedbackGenerator writes coaching text for a performance summary
type FeedbackGenerator interface {
	GenerateFeedback(ctx context.Context, summary PerformanceSummary) (string, error)
}

// FeedbackMaker generates feedback through an OpenAI-compatible chat completion API
type FeedbackMaker struct {
	client *openai.Client
	model  string
}

// NewFeedbackMakerFromConfig creates a feedback maker using the configured model
func NewFeedbackMakerFromConfig(cfg Config) *FeedbackMaker {
	model := cfg.OpenAIModel
	if model == "" {
		model = openai.GPT4o
	}
	return &FeedbackMaker{
		client: NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL),
		model:  model,
	}
}

// GenerateFeedback asks the model for a short personalised study recommendation
func (fm *FeedbackMaker) GenerateFeedback(ctx context.Context, summary PerformanceSummary) (string, error) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}

	resp, err := fm.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       fm.model,
		Temperature: 0.7,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a friendly tutor. Give concise, specific study advice in under 150 words.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Here is a student's quiz performance summary:\n\n" + string(data) + "\n\nPoint out strengths, name what to focus on next and suggest how to practice.",
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate feedback: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in feedback response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty feedback response")
	}
	return text, nil
}

// FeedbackCache stores generated feedback per user and summary hash
type FeedbackCache interface {
	Get(ctx context.Context, userID, hash string) (string, bool, error)
	Set(ctx context.Context, userID, hash, text string) error
	Invalidate(ctx context.Context, userID string) error
}

// MemoryFeedbackCache keeps feedback in process memory
type MemoryFeedbackCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

// NewMemoryFeedbackCache creates an empty in-memory cache
func NewMemoryFeedbackCache() *MemoryFeedbackCache {
	return &MemoryFeedbackCache{entries: make(map[string]map[string]string)}
}

func (c *MemoryFeedbackCache) Get(_ context.Context, userID, hash string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	text, ok := c.entries[userID][hash]
	return text, ok, nil
}

func (c *MemoryFeedbackCache) Set(_ context.Context, userID, hash, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[userID] == nil {
		c.entries[userID] = make(map[string]string)
	}
	c.entries[userID][hash] = text
	return nil
}

func (c *MemoryFeedbackCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}

// RedisFeedbackCache keeps feedback in a redis hash per user
type RedisFeedbackCache struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisFeedbackCache connects to redis at addr and checks it answers
func NewRedisFeedbackCache(ctx context.Context, addr string, ttl time.Duration) (*RedisFeedbackCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisFeedbackCache{rdb: rdb, prefix: "quizapp:feedback:", ttl: ttl}, nil
}

func (c *RedisFeedbackCache) key(userID string) string {
	return c.prefix + userID
}

func (c *RedisFeedbackCache) Get(ctx context.Context, userID, hash string) (string, bool, error) {
	text, err := c.rdb.HGet(ctx, c.key(userID), hash).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget: %w", err)
	}
	return text, true, nil
}

func (c *RedisFeedbackCache) Set(ctx context.Context, userID, hash, text string) error {
	key := c.key(userID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, hash, text)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (c *RedisFeedbackCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.rdb.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the redis connection
func (c *RedisFeedbackCache) Close() error {
	return c.rdb.Close()
}

// AttemptLister lists a user's attempts
type AttemptLister interface {
	ListAttempts(ctx context.Context, userID string, limit int) ([]QuizAttempt, error)
}

// PerformanceReport is the performance page payload
type PerformanceReport struct {
	Summary  PerformanceSummary `json:"summary"`
	Feedback string             `json:"feedback"`
	Cached   bool               `json:"cached"`
}

// PerformanceService builds performance summaries and caches their AI feedback
type PerformanceService struct {
	attempts  AttemptLister
	generator FeedbackGenerator
	cache     FeedbackCache
	timeout   time.Duration
}

// NewPerformanceService creates the service. A nil generator always yields the fallback text.
func NewPerformanceService(attempts AttemptLister, generator FeedbackGenerator, cache FeedbackCache) *PerformanceService {
	if cache == nil {
		cache = NewMemoryFeedbackCache()
	}
	return &PerformanceService{
		attempts:  attempts,
		generator: generator,
		cache:     cache,
		timeout:   feedbackTimeout,
	}
}

// Report summarises the user's completed attempts and attaches feedback. Generator
// failures are replaced with FallbackFeedback, which is not cached.
func (ps *PerformanceService) Report(ctx context.Context, userID string) (PerformanceReport, error) {
	attempts, err := ps.attempts.ListAttempts(ctx, userID, 0)
	if err != nil {
		return PerformanceReport{}, err
	}
	report := PerformanceReport{Summary: BuildPerformanceSummary(attempts)}
	if report.Summary.QuizzesCompleted == 0 {
		report.Feedback = noAttemptsFeedback
		return report, nil
	}

	hash := report.Summary.Hash()
	if text, ok, err := ps.cache.Get(ctx, userID, hash); err != nil {
		logger.Warnw("feedback cache read failed", "user_id", userID, "error", err)
	} else if ok {
		report.Feedback = text
		report.Cached = true
		return report, nil
	}

	if ps.generator == nil {
		report.Feedback = FallbackFeedback
		return report, nil
	}
	genCtx, cancel := context.WithTimeout(ctx, ps.timeout)
	defer cancel()
	text, err := ps.generator.GenerateFeedback(genCtx, report.Summary)
	if err != nil {
		logger.Warnw("feedback generation failed, using fallback", "user_id", userID, "error", err)
		report.Feedback = FallbackFeedback
		return report, nil
	}
	report.Feedback = text
	if err := ps.cache.Set(ctx, userID, hash, text); err != nil {
		logger.Warnw("feedback cache write failed", "user_id", userID, "error", err)
	}
	return report, nil
}

// InvalidateFeedback drops the user's cached feedback; called when the dashboard is entered
func (ps *PerformanceService) InvalidateFeedback(ctx context.Context, userID string) error {
	return ps.cache.Invalidate(ctx, userID)
}
