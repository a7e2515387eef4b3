package quizapp

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeSourcer hands out a fixed question set, or fails with err
type fakeSourcer struct {
	calls int
	err   error
	last  SourceRequest
}

func (s *fakeSourcer) Fill(ctx context.Context, req SourceRequest) (AttemptQuestions, GenerationMeta, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, GenerationMeta{Retries: 3}, s.err
	}
	return questionSet(req.Count, req.Topic), GenerationMeta{FromBank: req.Count}, nil
}

type engineFixture struct {
	db     *DB
	engine *Engine
	source *fakeSourcer
	clock  *testClock
	leaf   *SubCategory
	group  *SubCategory
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := newTestDB(t)
	clock := newTestClock()
	db.SetClock(clock.Now)
	leaf := seedLeaf(t, db, "Java", 0)
	group, err := db.GetSubCategory(context.Background(), *leaf.ParentID)
	if err != nil {
		t.Fatalf("load group: %v", err)
	}

	source := &fakeSourcer{}
	engine := NewEngine(db, source, EngineConfig{QuestionsPerAttempt: 3, TimeLimitSeconds: 300})
	engine.SetClock(clock.Now)
	return &engineFixture{db: db, engine: engine, source: source, clock: clock, leaf: leaf, group: group}
}

// ready starts and generates an attempt for alice
func (f *engineFixture) ready(t *testing.T) *QuizAttempt {
	t.Helper()
	ctx := context.Background()
	a, err := f.engine.Start(ctx, "alice", f.leaf.ID, "medium")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	a, err = f.engine.Generate(ctx, "alice", a.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return a
}

func TestEngine_StartValidates(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	if _, err := f.engine.Start(ctx, "alice", f.leaf.ID, "extreme"); !errors.Is(err, ErrInvalidDifficulty) {
		t.Fatalf("expected invalid difficulty, got %v", err)
	}
	if _, err := f.engine.Start(ctx, "alice", f.group.ID, "easy"); !errors.Is(err, ErrNotLeafSubCategory) {
		t.Fatalf("expected non-leaf rejection, got %v", err)
	}
	if _, err := f.engine.Start(ctx, "alice", 9999, "easy"); !errors.Is(err, ErrSubCategoryNotFound) {
		t.Fatalf("expected missing subcategory, got %v", err)
	}

	a, err := f.engine.Start(ctx, "alice", f.leaf.ID, "Medium")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.Status != StatusGenerating || a.Difficulty != DifficultyMedium || a.TotalQuestions != 3 || a.TimeLimitSeconds != 300 {
		t.Fatalf("unexpected new attempt: %+v", a)
	}
	if a.SubCategoryName != "Java" || a.CategoryName != "Academic" {
		t.Fatalf("expected catalog names, got %q %q", a.CategoryName, a.SubCategoryName)
	}
}

func TestEngine_ActiveAttemptRedirect(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	first := f.ready(t)

	_, err := f.engine.Start(ctx, "alice", f.leaf.ID, "easy")
	var active *ActiveAttemptError
	if !errors.As(err, &active) || active.AttemptID != first.ID {
		t.Fatalf("expected redirect to %s, got %v", first.ID, err)
	}
	attempts, err := f.db.ListAttempts(ctx, "alice", 0)
	if err != nil || len(attempts) != 1 {
		t.Fatalf("no attempt should be created, got %d %v", len(attempts), err)
	}

	if _, err := f.engine.Quit(ctx, "alice", first.ID); err != nil {
		t.Fatalf("quit: %v", err)
	}
	if _, err := f.engine.Start(ctx, "alice", f.leaf.ID, "easy"); err != nil {
		t.Fatalf("start after quit: %v", err)
	}
}

func TestEngine_GenerateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	a := f.ready(t)

	if a.Status != StatusInProgress || len(a.Questions) != 3 || a.Meta.FromBank != 3 {
		t.Fatalf("unexpected generated attempt: %+v", a)
	}
	if f.source.last.Topic != "Java" || f.source.last.UserID != "alice" || f.source.last.SubCategoryID != f.leaf.ID {
		t.Fatalf("unexpected source request: %+v", f.source.last)
	}

	again, err := f.engine.Generate(ctx, "alice", a.ID)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if f.source.calls != 1 {
		t.Fatalf("expected a single fill, got %d", f.source.calls)
	}
	if again.Questions[0].Question != a.Questions[0].Question {
		t.Fatalf("questions changed on second generate")
	}
}

func TestEngine_GenerationFailureAbandons(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.source.err = &SourcingError{Needed: 3, Found: 1, Reason: "retries exhausted"}

	a, err := f.engine.Start(ctx, "alice", f.leaf.ID, "hard")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = f.engine.Generate(ctx, "alice", a.ID)
	var se *SourcingError
	if !errors.As(err, &se) || se.Shortfall() != 2 {
		t.Fatalf("expected sourcing error, got %v", err)
	}

	stored, err := f.db.GetAttempt(ctx, a.ID, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusAbandoned || stored.CompletedAt == nil {
		t.Fatalf("expected abandoned attempt, got %s", stored.Status)
	}
	if stored.Meta.Failure != se.Message() || stored.Meta.Retries != 3 {
		t.Fatalf("failure not recorded: %+v", stored.Meta)
	}
	if _, err := f.engine.Generate(ctx, "alice", a.ID); !errors.Is(err, ErrAttemptClosed) {
		t.Fatalf("expected closed attempt, got %v", err)
	}
}

func TestEngine_AnswerFlow(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	a := f.ready(t)

	if _, err := f.engine.SubmitAnswer(ctx, "alice", a.ID, "E"); !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("expected invalid answer, got %v", err)
	}
	stored, _ := f.db.GetAttempt(ctx, a.ID, "alice")
	if stored.CurrentQuestionIndex != 0 || stored.AnsweredCount() != 0 {
		t.Fatalf("invalid answer mutated the attempt")
	}

	a, err := f.engine.SubmitAnswer(ctx, "alice", a.ID, "a")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if a.CurrentQuestionIndex != 1 || !*a.Questions[0].IsCorrect {
		t.Fatalf("unexpected state after first answer: index=%d", a.CurrentQuestionIndex)
	}

	a, err = f.engine.GoBack(ctx, "alice", a.ID)
	if err != nil || a.CurrentQuestionIndex != 0 || !a.Questions[0].Answered() {
		t.Fatalf("go back should keep the answer: %v", err)
	}
	a, err = f.engine.SubmitAnswer(ctx, "alice", a.ID, "B")
	if err != nil || a.CurrentQuestionIndex != 1 || *a.Questions[0].IsCorrect {
		t.Fatalf("re-answer should overwrite: %v", err)
	}

	if _, err := f.engine.Results(ctx, "alice", a.ID); !errors.Is(err, ErrAttemptNotFinished) {
		t.Fatalf("expected results to require completion, got %v", err)
	}

	f.clock.Advance(40 * time.Second)
	if _, err := f.engine.SubmitAnswer(ctx, "alice", a.ID, "A"); err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	a, err = f.engine.SubmitAnswer(ctx, "alice", a.ID, "c")
	if err != nil {
		t.Fatalf("submit 3: %v", err)
	}
	if a.Status != StatusCompleted || a.CorrectAnswers != 1 || a.AttemptedQuestions != 3 {
		t.Fatalf("expected completed attempt with 1 correct, got %s %d/%d", a.Status, a.CorrectAnswers, a.AttemptedQuestions)
	}
	if a.TimeTakenSeconds != 40 || a.StartedAt != nil {
		t.Fatalf("expected 40s taken and stopped clock, got %d %v", a.TimeTakenSeconds, a.StartedAt)
	}

	r, err := f.engine.Results(ctx, "alice", a.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if r.Correct != 1 || r.Total != 3 || r.Percentage != 33.33 || r.Grade != "F" {
		t.Fatalf("unexpected result: %+v", r)
	}
	if _, err := f.engine.SubmitAnswer(ctx, "alice", a.ID, "A"); !errors.Is(err, ErrAttemptClosed) {
		t.Fatalf("expected closed attempt, got %v", err)
	}
	if _, err := f.engine.Results(ctx, "bob", a.ID); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("another user must not see the attempt, got %v", err)
	}
}

func TestEngine_PauseResumeQuitTiming(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	a := f.ready(t)

	f.clock.Advance(30 * time.Second)
	a, err := f.engine.Pause(ctx, "alice", a.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if a.Status != StatusInProgress || a.PausedAt == nil || a.TimeSpentSeconds != 30 {
		t.Fatalf("unexpected paused state: %s %v %d", a.Status, a.PausedAt, a.TimeSpentSeconds)
	}

	f.clock.Advance(10 * time.Minute)
	view, err := f.engine.CurrentView(ctx, "alice", a.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.RemainingSeconds != 270 || view.TimeUp {
		t.Fatalf("paused time should not count, got %d", view.RemainingSeconds)
	}

	if _, err := f.engine.Resume(ctx, "alice", a.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	f.clock.Advance(20 * time.Second)
	a, err = f.engine.Quit(ctx, "alice", a.ID)
	if err != nil {
		t.Fatalf("quit: %v", err)
	}
	if a.Status != StatusAbandoned || a.TimeSpentSeconds != 50 || a.CompletedAt == nil {
		t.Fatalf("unexpected quit state: %s spent=%d", a.Status, a.TimeSpentSeconds)
	}
	if _, err := f.engine.Quit(ctx, "alice", a.ID); !errors.Is(err, ErrAttemptClosed) {
		t.Fatalf("expected closed attempt, got %v", err)
	}
	if _, err := f.engine.Resume(ctx, "alice", a.ID); !errors.Is(err, ErrAttemptClosed) {
		t.Fatalf("expected closed attempt, got %v", err)
	}
}

func TestEngine_AnswerWhilePausedReopensClock(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	a := f.ready(t)

	f.clock.Advance(10 * time.Second)
	if _, err := f.engine.Pause(ctx, "alice", a.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	f.clock.Advance(time.Hour)
	a, err := f.engine.SubmitAnswer(ctx, "alice", a.ID, "A")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if a.PausedAt != nil || a.TimeSpentSeconds != 10 {
		t.Fatalf("expected reopened clock with 10s spent, got %v %d", a.PausedAt, a.TimeSpentSeconds)
	}
}

func TestEngine_TimerCheckpointAndAutoSubmit(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	a := f.ready(t)

	f.clock.Advance(5 * time.Second)
	a, err := f.engine.SaveTimer(ctx, "alice", a.ID, 100)
	if err != nil {
		t.Fatalf("save timer: %v", err)
	}
	if a.TimeSpentSeconds != 200 || *a.RemainingSeconds != 100 {
		t.Fatalf("checkpoint not mirrored: %d %v", a.TimeSpentSeconds, a.RemainingSeconds)
	}
	view, err := f.engine.CurrentView(ctx, "alice", a.ID)
	if err != nil || view.RemainingSeconds != 100 || view.Question == nil || view.Number != 1 {
		t.Fatalf("unexpected view: %+v %v", view, err)
	}
	if view.Question.Options[AnswerC] != "third" {
		t.Fatalf("options not exposed: %+v", view.Question.Options)
	}

	if _, err := f.engine.SubmitAnswer(ctx, "alice", a.ID, "A"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.engine.SaveTimer(ctx, "alice", a.ID, 0); err != nil {
		t.Fatalf("save timer: %v", err)
	}
	f.clock.Advance(time.Second)
	view, err = f.engine.CurrentView(ctx, "alice", a.ID)
	if err != nil || !view.TimeUp {
		t.Fatalf("expected time up, got %+v %v", view, err)
	}

	a, err = f.engine.AutoSubmit(ctx, "alice", a.ID)
	if err != nil {
		t.Fatalf("auto submit: %v", err)
	}
	if a.Status != StatusCompleted || a.AttemptedQuestions != 1 || a.CorrectAnswers != 1 {
		t.Fatalf("unexpected auto-submitted attempt: %s %d %d", a.Status, a.AttemptedQuestions, a.CorrectAnswers)
	}
	if a.Score != Score(1, 3) {
		t.Fatalf("score should use the full question count, got %v", a.Score)
	}
	if _, err := f.engine.AutoSubmit(ctx, "alice", a.ID); !errors.Is(err, ErrAttemptClosed) {
		t.Fatalf("expected closed attempt, got %v", err)
	}

	view, err = f.engine.CurrentView(ctx, "alice", a.ID)
	if err != nil || view.Question != nil || view.Status != StatusCompleted {
		t.Fatalf("finished attempt should not expose a question: %+v %v", view, err)
	}
}

func TestEngine_DashboardAndRecent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	a := f.ready(t)
	for _, tag := range []string{"A", "A", "B"} {
		if _, err := f.engine.SubmitAnswer(ctx, "alice", a.ID, tag); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	f.clock.Advance(time.Minute)
	b := f.ready(t)
	if _, err := f.engine.Quit(ctx, "alice", b.ID); err != nil {
		t.Fatalf("quit: %v", err)
	}

	stats, err := f.engine.Dashboard(ctx, "alice")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if stats.TotalAttempted != 2 || stats.TotalCompleted != 1 || stats.CompletionRate != 50 || stats.AvgScore != 66.67 {
		t.Fatalf("unexpected dashboard: %+v", stats)
	}

	recent, err := f.engine.Recent(ctx, "alice", 1)
	if err != nil || len(recent) != 1 || recent[0].ID != b.ID || recent[0].Grade != "" {
		t.Fatalf("unexpected recent list: %+v %v", recent, err)
	}
	active, err := f.engine.ActiveAttempt(ctx, "alice")
	if err != nil || active != nil {
		t.Fatalf("expected no active attempt, got %v %v", active, err)
	}
}
