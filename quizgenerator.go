package quizapp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// SourceStore is the persistence the question source reads from and writes to
type SourceStore interface {
	FindUnseen(ctx context.Context, subCategoryID int64, difficulty Difficulty, excluded []string, limit int) ([]Question, error)
	InsertIfNew(ctx context.Context, q *Question) (InsertResult, error)
	ListConcepts(ctx context.Context, subCategoryID int64, difficulty Difficulty) ([]Concept, error)
	RecentSeenTexts(ctx context.Context, userID string, subCategoryID int64, since time.Time) ([]string, error)
}

// SourceConfig tunes the hybrid sourcing
type SourceConfig struct {
	MaxRetries        int
	SeenWindow        time.Duration
	GenerationTimeout time.Duration
	TranscriptDir     string // empty disables LLM transcripts
	Model             string // recorded in GenerationMeta
}

// DefaultSourceConfig returns the standard sourcing settings
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		MaxRetries:        3,
		SeenWindow:        7 * 24 * time.Hour,
		GenerationTimeout: 45 * time.Second,
	}
}

// SourceRequest describes the attempt being filled
type SourceRequest struct {
	AttemptID     string
	UserID        string
	CategoryID    int64
	SubCategoryID int64
	Topic         string
	Category      string
	Difficulty    Difficulty
	Count         int
}

// QuestionSource fills attempts from the question bank first and generates the shortfall
type QuestionSource struct {
	store     SourceStore
	generator QuestionGenerator
	cfg       SourceConfig
	now       func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewQuestionSource creates a question source
func NewQuestionSource(store SourceStore, generator QuestionGenerator, cfg SourceConfig) *QuestionSource {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultSourceConfig().MaxRetries
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultSourceConfig().GenerationTimeout
	}
	return &QuestionSource{
		store:     store,
		generator: generator,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand replaces the random source used for concept sampling and shuffling
func (qs *QuestionSource) SetRand(r *rand.Rand) {
	qs.mu.Lock()
	qs.rnd = r
	qs.mu.Unlock()
}

// SetClock overrides the time source
func (qs *QuestionSource) SetClock(now func() time.Time) {
	qs.now = now
}

// sourcingRun is the state of one Fill call
type sourcingRun struct {
	req     SourceRequest
	dedup   *QuestionDedup
	result  []AttemptQuestion
	meta    GenerationMeta
	reason  string // why generation stopped early
	lastErr error  // last generator failure
}

func (run *sourcingRun) full() bool {
	return len(run.result) >= run.req.Count
}

// Fill sources exactly req.Count questions. On success the list is shuffled and numbered
// 1..Count. When not enough unique questions can be found it returns a *SourcingError.
func (qs *QuestionSource) Fill(ctx context.Context, req SourceRequest) (AttemptQuestions, GenerationMeta, error) {
	run := &sourcingRun{req: req, meta: GenerationMeta{Model: qs.cfg.Model}}
	if req.Count <= 0 {
		return nil, run.meta, fmt.Errorf("question count must be positive, got %d", req.Count)
	}
	log := logger.With("attempt_id", req.AttemptID, "subcategory_id", req.SubCategoryID, "difficulty", req.Difficulty)

	var seen []string
	if req.UserID != "" && qs.cfg.SeenWindow > 0 {
		var err error
		seen, err = qs.store.RecentSeenTexts(ctx, req.UserID, req.SubCategoryID, qs.now().Add(-qs.cfg.SeenWindow))
		if err != nil {
			return nil, run.meta, err
		}
	}
	run.dedup = NewQuestionDedup(seen)
	run.result = make([]AttemptQuestion, 0, req.Count)

	banked, err := qs.store.FindUnseen(ctx, req.SubCategoryID, req.Difficulty, run.dedup.SeenTexts(), req.Count)
	if err != nil {
		return nil, run.meta, err
	}
	for i := range banked {
		if !run.dedup.Accept(banked[i].QuestionText) {
			continue
		}
		run.result = append(run.result, banked[i].ToAttemptQuestion())
		run.meta.FromBank++
	}
	log.Infow("bank lookup done", "from_bank", run.meta.FromBank, "needed", req.Count)

	if !run.full() {
		if transcript := qs.openTranscript(req); transcript != nil {
			defer transcript.Close()
			ctx = WithLLMLogger(ctx, transcript)
		}
		if err := qs.generate(ctx, run); err != nil {
			return nil, run.meta, err
		}
	}

	if !run.full() {
		if run.reason == "" {
			run.reason = "retries exhausted"
		}
		log.Warnw("sourcing failed", "found", len(run.result), "needed", req.Count, "reason", run.reason, "error", run.lastErr)
		return nil, run.meta, &SourcingError{Needed: req.Count, Found: len(run.result), Reason: run.reason, Err: run.lastErr}
	}

	qs.shuffle(run.result)
	for i := range run.result {
		run.result[i].ID = i + 1
	}
	run.meta.GeneratedAt = qs.now()
	log.Infow("sourcing complete", "from_bank", run.meta.FromBank, "generated", run.meta.Generated, "retries", run.meta.Retries)
	return run.result, run.meta, nil
}

// generate runs the bounded retry loop, appending new bank entries to run.result. Only
// storage failures are returned; generator failures end up in run.lastErr.
func (qs *QuestionSource) generate(ctx context.Context, run *sourcingRun) error {
	req := run.req
	transcript := LLMLoggerFromContext(ctx)

	for round := 1; round <= qs.cfg.MaxRetries && !run.full(); round++ {
		needed := req.Count - len(run.result)

		concepts, err := qs.store.ListConcepts(ctx, req.SubCategoryID, req.Difficulty)
		if err != nil {
			return err
		}
		if len(concepts) < needed {
			VerboseLog("concept pool has %d entries, need %d; stopping generation", len(concepts), needed)
			run.reason = "not enough concepts"
			run.lastErr = fmt.Errorf("%w: have %d, need %d", ErrInsufficientConcepts, len(concepts), needed)
			return nil
		}

		run.meta.Retries = round
		genReq := GenerationRequest{
			Topic:      req.Topic,
			Category:   req.Category,
			Difficulty: req.Difficulty,
			Count:      needed,
			Concepts:   qs.sampleConcepts(concepts, needed),
		}
		callCtx, cancel := context.WithTimeout(ctx, qs.cfg.GenerationTimeout)
		records, err := qs.generator.GenerateQuestions(callCtx, genReq)
		cancel()
		if err != nil {
			run.lastErr = err
			if transcript != nil {
				transcript.LogRetry(round, 0, 0, err)
			}
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				run.reason = "question generation timed out"
				return nil
			}
			logger.Warnw("generation round failed", "attempt_id", req.AttemptID, "round", round, "error", err)
			continue
		}

		accepted, skipped := 0, 0
		for i := range records {
			if run.full() {
				break
			}
			rec := records[i]
			if !run.dedup.Accept(rec.Question) {
				skipped++
				continue
			}
			ins, err := qs.store.InsertIfNew(ctx, &Question{
				CategoryID:    req.CategoryID,
				SubCategoryID: req.SubCategoryID,
				Difficulty:    req.Difficulty,
				QuestionText:  rec.Question,
				OptionA:       rec.OptionA,
				OptionB:       rec.OptionB,
				OptionC:       rec.OptionC,
				OptionD:       rec.OptionD,
				CorrectAnswer: rec.CorrectAnswer,
				Explanation:   rec.Explanation,
				Concept:       rec.Concept,
				Source:        SourceAI,
			})
			if err != nil {
				return err
			}
			if ins.Duplicate {
				skipped++
				continue
			}
			run.result = append(run.result, ins.Question.ToAttemptQuestion())
			run.meta.Generated++
			accepted++
		}
		if transcript != nil {
			transcript.LogRetry(round, accepted, skipped, nil)
		}
		VerboseLog("round %d: %d accepted, %d skipped", round, accepted, skipped)
	}
	return nil
}

func (qs *QuestionSource) openTranscript(req SourceRequest) *LLMLogger {
	if qs.cfg.TranscriptDir == "" || req.AttemptID == "" {
		return nil
	}
	ll, err := NewLLMLogger(qs.cfg.TranscriptDir, req.AttemptID, GenerationRequest{
		Topic:      req.Topic,
		Category:   req.Category,
		Difficulty: req.Difficulty,
		Count:      req.Count,
	})
	if err != nil {
		logger.Warnw("failed to open LLM transcript", "attempt_id", req.AttemptID, "error", err)
		return nil
	}
	return ll
}

// sampleConcepts picks n concept names without replacement
func (qs *QuestionSource) sampleConcepts(pool []Concept, n int) []string {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	if n > len(pool) {
		n = len(pool)
	}
	names := make([]string, 0, n)
	for _, i := range qs.rnd.Perm(len(pool))[:n] {
		names = append(names, pool[i].Name)
	}
	return names
}

func (qs *QuestionSource) shuffle(questions []AttemptQuestion) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.rnd.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
}
