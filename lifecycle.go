package quizapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultQuestionsPerAttempt = 10
	DefaultTimeLimitSeconds    = 600
)

// EngineConfig holds the per-attempt defaults
type EngineConfig struct {
	QuestionsPerAttempt int
	TimeLimitSeconds    int
}

// DefaultEngineConfig returns the standard attempt settings
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		QuestionsPerAttempt: DefaultQuestionsPerAttempt,
		TimeLimitSeconds:    DefaultTimeLimitSeconds,
	}
}

// AttemptStore persists attempts and resolves the catalog entries they point at
type AttemptStore interface {
	GetSubCategory(ctx context.Context, id int64) (*SubCategory, error)
	CreateAttempt(ctx context.Context, a *QuizAttempt) error
	GetAttempt(ctx context.Context, id, userID string) (*QuizAttempt, error)
	SaveAttempt(ctx context.Context, a *QuizAttempt) error
	ActiveAttempt(ctx context.Context, userID string) (*QuizAttempt, error)
	ListAttempts(ctx context.Context, userID string, limit int) ([]QuizAttempt, error)
}

// Sourcer fills an attempt with questions
type Sourcer interface {
	Fill(ctx context.Context, req SourceRequest) (AttemptQuestions, GenerationMeta, error)
}

// Engine drives quiz attempts through their lifecycle:
// GENERATING -> IN_PROGRESS -> COMPLETED or ABANDONED, with GENERATING -> ABANDONED on a
// sourcing failure. Each call loads the attempt, applies one transition and saves it.
type Engine struct {
	store  AttemptStore
	source Sourcer
	cfg    EngineConfig
	now    func() time.Time
}

// NewEngine creates an attempt engine
func NewEngine(store AttemptStore, source Sourcer, cfg EngineConfig) *Engine {
	if cfg.QuestionsPerAttempt <= 0 {
		cfg.QuestionsPerAttempt = DefaultQuestionsPerAttempt
	}
	if cfg.TimeLimitSeconds <= 0 {
		cfg.TimeLimitSeconds = DefaultTimeLimitSeconds
	}
	return &Engine{
		store:  store,
		source: source,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Start creates a GENERATING attempt for a leaf subcategory. If the user already has an
// attempt in progress it returns *ActiveAttemptError and creates nothing.
func (e *Engine) Start(ctx context.Context, userID string, subCategoryID int64, difficulty string) (*QuizAttempt, error) {
	d, err := ParseDifficulty(difficulty)
	if err != nil {
		return nil, err
	}
	sub, err := e.store.GetSubCategory(ctx, subCategoryID)
	if err != nil {
		return nil, err
	}
	if !sub.IsLeaf {
		return nil, fmt.Errorf("%w: %s", ErrNotLeafSubCategory, sub.Name)
	}

	active, err := e.store.ActiveAttempt(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, &ActiveAttemptError{AttemptID: active.ID}
	}

	now := e.now()
	a := &QuizAttempt{
		ID:               uuid.NewString(),
		UserID:           userID,
		CategoryID:       &sub.CategoryID,
		SubCategoryID:    &sub.ID,
		Difficulty:       d,
		Status:           StatusGenerating,
		TotalQuestions:   e.cfg.QuestionsPerAttempt,
		TimeLimitSeconds: e.cfg.TimeLimitSeconds,
		StartedAt:        &now,
		CategoryName:     sub.CategoryName,
		SubCategoryName:  sub.Name,
	}
	if err := e.store.CreateAttempt(ctx, a); err != nil {
		return nil, err
	}
	logger.Infow("attempt created", "attempt_id", a.ID, "user_id", userID, "subcategory_id", sub.ID, "difficulty", d)
	return a, nil
}

// Generate sources the attempt's questions and moves it to IN_PROGRESS. An attempt that
// already has questions is returned unchanged. On failure the attempt is ABANDONED with the
// reason kept in its generation metadata, and the error is returned with the attempt.
func (e *Engine) Generate(ctx context.Context, userID, attemptID string) (*QuizAttempt, error) {
	a, err := e.store.GetAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if len(a.Questions) > 0 {
		return a, nil
	}
	if a.Status != StatusGenerating {
		return a, fmt.Errorf("%w: %s is %s", ErrAttemptClosed, a.ID, a.Status)
	}

	req := SourceRequest{
		AttemptID:  a.ID,
		UserID:     a.UserID,
		Topic:      a.SubCategoryName,
		Category:   a.CategoryName,
		Difficulty: a.Difficulty,
		Count:      a.TotalQuestions,
	}
	if a.CategoryID != nil {
		req.CategoryID = *a.CategoryID
	}
	if a.SubCategoryID != nil {
		req.SubCategoryID = *a.SubCategoryID
	}

	questions, meta, err := e.source.Fill(ctx, req)
	if err != nil {
		a.Meta = meta
		a.Meta.Failure = failureMessage(err)
		a.abandon(e.now())
		if saveErr := e.store.SaveAttempt(context.WithoutCancel(ctx), a); saveErr != nil {
			logger.Errorw("failed to abandon attempt", "attempt_id", a.ID, "error", saveErr)
		}
		logger.Warnw("question generation failed", "attempt_id", a.ID, "error", err)
		return a, err
	}

	now := e.now()
	a.Questions = questions
	a.TotalQuestions = len(questions)
	a.Meta = meta
	a.CurrentQuestionIndex = 0
	a.Status = StatusInProgress
	// generation time is not charged to the user
	a.resumeClock(now)

	if err := e.store.SaveAttempt(ctx, a); err != nil {
		var active *ActiveAttemptError
		if errors.As(err, &active) {
			a.Status = StatusGenerating
			a.Meta.Failure = active.Error()
			a.abandon(now)
			if saveErr := e.store.SaveAttempt(context.WithoutCancel(ctx), a); saveErr != nil {
				logger.Errorw("failed to abandon attempt", "attempt_id", a.ID, "error", saveErr)
			}
		}
		return a, err
	}
	logger.Infow("attempt ready", "attempt_id", a.ID, "questions", len(questions), "from_bank", meta.FromBank, "generated", meta.Generated)
	return a, nil
}

func failureMessage(err error) string {
	var se *SourcingError
	if errors.As(err, &se) {
		return se.Message()
	}
	return err.Error()
}

// SubmitAnswer records an answer for the current question and completes the attempt once
// every question has been answered. An invalid tag changes nothing.
func (e *Engine) SubmitAnswer(ctx context.Context, userID, attemptID, answer string) (*QuizAttempt, error) {
	return e.update(ctx, userID, attemptID, func(a *QuizAttempt) error {
		if err := a.recordAnswer(answer); err != nil {
			return err
		}
		if a.PausedAt != nil {
			a.resumeClock(e.now())
		}
		if a.IsComplete() {
			a.finalize(e.now())
			logger.Infow("attempt completed", "attempt_id", a.ID, "score", a.Score)
		}
		return nil
	})
}

// GoBack moves to the previous question
func (e *Engine) GoBack(ctx context.Context, userID, attemptID string) (*QuizAttempt, error) {
	return e.update(ctx, userID, attemptID, func(a *QuizAttempt) error {
		return a.goBack()
	})
}

// Pause stops the clock while the user is at the resume/quit decision point
func (e *Engine) Pause(ctx context.Context, userID, attemptID string) (*QuizAttempt, error) {
	return e.update(ctx, userID, attemptID, func(a *QuizAttempt) error {
		if err := a.requireInProgress(); err != nil {
			return err
		}
		a.pauseClock(e.now())
		return nil
	})
}

// Resume starts a fresh timing session for an in-progress attempt
func (e *Engine) Resume(ctx context.Context, userID, attemptID string) (*QuizAttempt, error) {
	return e.update(ctx, userID, attemptID, func(a *QuizAttempt) error {
		if err := a.requireInProgress(); err != nil {
			return err
		}
		a.resumeClock(e.now())
		return nil
	})
}

// Quit abandons the attempt, keeping the time spent so far
func (e *Engine) Quit(ctx context.Context, userID, attemptID string) (*QuizAttempt, error) {
	return e.update(ctx, userID, attemptID, func(a *QuizAttempt) error {
		if a.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrAttemptClosed, a.ID, a.Status)
		}
		a.abandon(e.now())
		logger.Infow("attempt abandoned", "attempt_id", a.ID, "time_spent", a.TimeSpentSeconds)
		return nil
	})
}

// AutoSubmit completes the attempt as it stands. The caller decides that time is up.
func (e *Engine) AutoSubmit(ctx context.Context, userID, attemptID string) (*QuizAttempt, error) {
	return e.update(ctx, userID, attemptID, func(a *QuizAttempt) error {
		if err := a.requireInProgress(); err != nil {
			return err
		}
		a.finalize(e.now())
		logger.Infow("attempt auto-submitted", "attempt_id", a.ID, "answered", a.AttemptedQuestions, "score", a.Score)
		return nil
	})
}

// SaveTimer applies a client-reported remaining time
func (e *Engine) SaveTimer(ctx context.Context, userID, attemptID string, remaining int) (*QuizAttempt, error) {
	return e.update(ctx, userID, attemptID, func(a *QuizAttempt) error {
		if err := a.requireInProgress(); err != nil {
			return err
		}
		a.ApplyCheckpoint(remaining, e.now())
		return nil
	})
}

// update loads the attempt, applies fn and saves it. Nothing is saved when fn fails.
func (e *Engine) update(ctx context.Context, userID, attemptID string, fn func(*QuizAttempt) error) (*QuizAttempt, error) {
	a, err := e.store.GetAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return a, err
	}
	if err := e.store.SaveAttempt(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// QuestionPrompt is a question as shown to the user, without the answer key
type QuestionPrompt struct {
	ID         int               `json:"id"`
	Question   string            `json:"question"`
	Options    map[string]string `json:"options"`
	UserAnswer *string           `json:"user_answer,omitempty"`
}

// QuestionView is the state of an attempt as the question page needs it
type QuestionView struct {
	AttemptID        string          `json:"attempt_id"`
	Status           AttemptStatus   `json:"status"`
	Number           int             `json:"question_number"`
	Total            int             `json:"total_questions"`
	Answered         int             `json:"answered_count"`
	RemainingSeconds int             `json:"remaining_seconds"`
	TimeUp           bool            `json:"time_up"`
	Question         *QuestionPrompt `json:"question,omitempty"`
}

// CurrentView describes the current question and the effective remaining time. TimeUp is
// set when an in-progress attempt has no time left; the caller should auto-submit it.
func (e *Engine) CurrentView(ctx context.Context, userID, attemptID string) (*QuestionView, error) {
	a, err := e.store.GetAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	v := &QuestionView{
		AttemptID: a.ID,
		Status:    a.Status,
		Number:    a.CurrentQuestionIndex + 1,
		Total:     a.TotalQuestions,
		Answered:  a.AnsweredCount(),
	}
	if a.Status != StatusInProgress {
		return v, nil
	}
	v.RemainingSeconds = a.EffectiveRemaining(e.now())
	v.TimeUp = v.RemainingSeconds == 0

	if q, err := a.CurrentQuestion(); err == nil {
		v.Question = &QuestionPrompt{
			ID:       q.ID,
			Question: q.Question,
			Options: map[string]string{
				AnswerA: q.OptionA,
				AnswerB: q.OptionB,
				AnswerC: q.OptionC,
				AnswerD: q.OptionD,
			},
			UserAnswer: q.UserAnswer,
		}
	}
	return v, nil
}

// Results returns the scored review of a completed attempt
func (e *Engine) Results(ctx context.Context, userID, attemptID string) (AttemptResult, error) {
	a, err := e.store.GetAttempt(ctx, attemptID, userID)
	if err != nil {
		return AttemptResult{}, err
	}
	if a.Status != StatusCompleted {
		return AttemptResult{}, fmt.Errorf("%w: %s is %s", ErrAttemptNotFinished, a.ID, a.Status)
	}
	return BuildResult(a), nil
}

// ActiveAttempt returns the user's in-progress attempt, or nil
func (e *Engine) ActiveAttempt(ctx context.Context, userID string) (*QuizAttempt, error) {
	return e.store.ActiveAttempt(ctx, userID)
}

// Dashboard aggregates all of the user's attempts
func (e *Engine) Dashboard(ctx context.Context, userID string) (DashboardStats, error) {
	attempts, err := e.store.ListAttempts(ctx, userID, 0)
	if err != nil {
		return DashboardStats{}, err
	}
	return ComputeDashboard(attempts, e.now()), nil
}

// Recent lists the user's latest attempts
func (e *Engine) Recent(ctx context.Context, userID string, limit int) ([]AttemptSummary, error) {
	attempts, err := e.store.ListAttempts(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]AttemptSummary, 0, len(attempts))
	for i := range attempts {
		out = append(out, Summarize(&attempts[i]))
	}
	return out, nil
}
