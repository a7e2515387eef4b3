package quizapp

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Difficulty is the difficulty level an attempt or bank question belongs to
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties lists the supported levels in ascending order
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// ParseDifficulty validates a difficulty string
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDifficulty, s)
}

// AttemptStatus represents the state of a quiz attempt
type AttemptStatus int

const (
	StatusGenerating AttemptStatus = iota
	StatusInProgress
	StatusCompleted
	StatusAbandoned
)

func (s AttemptStatus) String() string {
	switch s {
	case StatusGenerating:
		return "generating"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusAbandoned:
		return "abandoned"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether no further transition can leave this status
func (s AttemptStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

func (s AttemptStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *AttemptStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, st := range []AttemptStatus{StatusGenerating, StatusInProgress, StatusCompleted, StatusAbandoned} {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown attempt status %q", name)
}

// Answer tags
const (
	AnswerA = "A"
	AnswerB = "B"
	AnswerC = "C"
	AnswerD = "D"
)

// ParseAnswer upper-cases the input and checks it is one of A, B, C or D
func ParseAnswer(s string) (string, error) {
	tag := strings.ToUpper(strings.TrimSpace(s))
	switch tag {
	case AnswerA, AnswerB, AnswerC, AnswerD:
		return tag, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAnswer, s)
}

// AttemptQuestion is one entry of an attempt's question list
type AttemptQuestion struct {
	ID            int     `json:"id"` // 1-based, assigned after shuffling
	Question      string  `json:"question"`
	OptionA       string  `json:"option_a"`
	OptionB       string  `json:"option_b"`
	OptionC       string  `json:"option_c"`
	OptionD       string  `json:"option_d"`
	CorrectAnswer string  `json:"correct_answer"`
	Explanation   string  `json:"explanation"`
	Concept       string  `json:"concept,omitempty"`
	UserAnswer    *string `json:"user_answer"`
	IsCorrect     *bool   `json:"is_correct"`
}

// Answered reports whether the user has recorded an answer
func (q AttemptQuestion) Answered() bool {
	return q.UserAnswer != nil
}

// Option returns the option text for a tag
func (q AttemptQuestion) Option(tag string) string {
	switch tag {
	case AnswerA:
		return q.OptionA
	case AnswerB:
		return q.OptionB
	case AnswerC:
		return q.OptionC
	case AnswerD:
		return q.OptionD
	}
	return ""
}

// AttemptQuestions is stored as a JSON document on the attempt row
type AttemptQuestions []AttemptQuestion

func (qs AttemptQuestions) Value() (driver.Value, error) {
	if qs == nil {
		return nil, nil
	}
	data, err := json.Marshal(qs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal questions: %w", err)
	}
	return string(data), nil
}

func (qs *AttemptQuestions) Scan(src interface{}) error {
	data, err := jsonBytes(src)
	if err != nil || data == nil {
		*qs = nil
		return err
	}
	return json.Unmarshal(data, qs)
}

// GenerationMeta records how an attempt's questions were sourced
type GenerationMeta struct {
	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	FromBank    int       `json:"from_bank"`
	Generated   int       `json:"generated"`
	Retries     int       `json:"retries"`
	Failure     string    `json:"failure,omitempty"`
}

func (m GenerationMeta) Value() (driver.Value, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation meta: %w", err)
	}
	return string(data), nil
}

func (m *GenerationMeta) Scan(src interface{}) error {
	data, err := jsonBytes(src)
	if err != nil || data == nil {
		*m = GenerationMeta{}
		return err
	}
	return json.Unmarshal(data, m)
}

func jsonBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("unsupported JSON column type %T", src)
}

// QuizAttempt is one user's run through a set of questions
type QuizAttempt struct {
	ID                   string           `db:"id" json:"id"`
	UserID               string           `db:"user_id" json:"user_id"`
	CategoryID           *int64           `db:"category_id" json:"category_id"`
	SubCategoryID        *int64           `db:"subcategory_id" json:"subcategory_id"`
	Difficulty           Difficulty       `db:"difficulty" json:"difficulty"`
	Status               AttemptStatus    `db:"status" json:"status"`
	Questions            AttemptQuestions `db:"questions" json:"questions"`
	Meta                 GenerationMeta   `db:"ai_meta" json:"ai_meta"`
	TotalQuestions       int              `db:"total_questions" json:"total_questions"`
	CurrentQuestionIndex int              `db:"current_question_index" json:"current_question_index"`
	TimeLimitSeconds     int              `db:"time_limit_seconds" json:"time_limit_seconds"`
	TimeSpentSeconds     int              `db:"time_spent_seconds" json:"time_spent_seconds"`
	RemainingSeconds     *int             `db:"remaining_seconds" json:"remaining_seconds"`
	TimeTakenSeconds     int              `db:"time_taken_seconds" json:"time_taken_seconds"`
	CorrectAnswers       int              `db:"correct_answers" json:"correct_answers"`
	AttemptedQuestions   int              `db:"attempted_questions" json:"attempted_questions"`
	Score                float64          `db:"score" json:"score"`
	StartedAt            *time.Time       `db:"started_at" json:"started_at"`
	PausedAt             *time.Time       `db:"paused_at" json:"paused_at"`
	CompletedAt          *time.Time       `db:"completed_at" json:"completed_at"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`

	// Filled by joins when reading, never written
	CategoryName    string `db:"category_name" json:"category_name"`
	SubCategoryName string `db:"subcategory_name" json:"subcategory_name"`
}

// Question is a reusable question bank entry
type Question struct {
	ID            int64      `db:"id" json:"id"`
	CategoryID    int64      `db:"category_id" json:"category_id"`
	SubCategoryID int64      `db:"subcategory_id" json:"subcategory_id"`
	Difficulty    Difficulty `db:"difficulty" json:"difficulty"`
	QuestionText  string     `db:"question_text" json:"question"`
	OptionA       string     `db:"option_a" json:"option_a"`
	OptionB       string     `db:"option_b" json:"option_b"`
	OptionC       string     `db:"option_c" json:"option_c"`
	OptionD       string     `db:"option_d" json:"option_d"`
	CorrectAnswer string     `db:"correct_answer" json:"correct_answer"`
	Explanation   string     `db:"explanation" json:"explanation"`
	Concept       string     `db:"concept" json:"concept,omitempty"`
	Fingerprint   string     `db:"normalized_hash" json:"normalized_hash"`
	Source        string     `db:"source" json:"source"`
	UsageCount    int        `db:"usage_count" json:"usage_count"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Bank question sources
const (
	SourceAI     = "ai"
	SourceManual = "manual"
)

// ToAttemptQuestion copies the bank entry into an unanswered attempt question
func (q *Question) ToAttemptQuestion() AttemptQuestion {
	return AttemptQuestion{
		Question:      q.QuestionText,
		OptionA:       q.OptionA,
		OptionB:       q.OptionB,
		OptionC:       q.OptionC,
		OptionD:       q.OptionD,
		CorrectAnswer: q.CorrectAnswer,
		Explanation:   q.Explanation,
		Concept:       q.Concept,
	}
}

// QuestionRecord is a question as produced by the generator, before it has a bank identity
type QuestionRecord struct {
	Question      string `json:"question"`
	OptionA       string `json:"option_a"`
	OptionB       string `json:"option_b"`
	OptionC       string `json:"option_c"`
	OptionD       string `json:"option_d"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation"`
	Concept       string `json:"concept,omitempty"`
}

// Concept is a topic tag used to steer generation
type Concept struct {
	ID            int64      `db:"id" json:"id"`
	SubCategoryID int64      `db:"subcategory_id" json:"subcategory_id"`
	Difficulty    Difficulty `db:"difficulty" json:"difficulty"`
	Name          string     `db:"name" json:"name"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Category is a top-level catalog entry
type Category struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// SubCategory is a node in a category's topic tree
type SubCategory struct {
	ID           int64     `db:"id" json:"id"`
	CategoryID   int64     `db:"category_id" json:"category_id"`
	Name         string    `db:"name" json:"name"`
	Level        int       `db:"level" json:"level"`
	ParentID     *int64    `db:"parent_id" json:"parent_id"`
	IsLeaf       bool      `db:"is_leaf" json:"is_leaf"`
	Description  string    `db:"description" json:"description"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	CategoryName string    `db:"category_name" json:"category_name"`
}

// GenerationRequest represents a request to generate questions
type GenerationRequest struct {
	Topic      string     `json:"topic"`
	Category   string     `json:"category"`
	Difficulty Difficulty `json:"difficulty"`
	Count      int        `json:"count"`
	Concepts   []string   `json:"concepts,omitempty"`
}
