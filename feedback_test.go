package quizapp

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

type fakeLister struct {
	attempts []QuizAttempt
}

func (l *fakeLister) ListAttempts(ctx context.Context, userID string, limit int) ([]QuizAttempt, error) {
	return l.attempts, nil
}

type fakeFeedback struct {
	calls int
	text  string
	err   error
}

func (g *fakeFeedback) GenerateFeedback(ctx context.Context, summary PerformanceSummary) (string, error) {
	g.calls++
	return g.text, g.err
}

func completedAttempt(topic string, d Difficulty, results ...bool) QuizAttempt {
	qs := make(AttemptQuestions, len(results))
	correct := 0
	for i, ok := range results {
		tag := AnswerB
		if ok {
			tag = AnswerA
			correct++
		}
		qs[i] = answered(AttemptQuestion{ID: i + 1, CorrectAnswer: AnswerA, Concept: topic + " basics"}, tag)
	}
	return QuizAttempt{
		Status:             StatusCompleted,
		Difficulty:         d,
		SubCategoryName:    topic,
		Questions:          qs,
		TotalQuestions:     len(results),
		AttemptedQuestions: len(results),
		CorrectAnswers:     correct,
		Score:              Score(correct, len(results)),
		TimeTakenSeconds:   len(results) * 12,
	}
}

func TestBuildPerformanceSummary(t *testing.T) {
	attempts := []QuizAttempt{
		completedAttempt("Java", DifficultyEasy, true, true, true, true),
		completedAttempt("Python", DifficultyHard, true, false, false, false),
		completedAttempt("Operating Systems", DifficultyEasy, true, true, false, false),
		{Status: StatusAbandoned, SubCategoryName: "Ignored", Score: 0},
	}

	s := BuildPerformanceSummary(attempts)
	if s.QuizzesCompleted != 3 {
		t.Fatalf("expected 3 completed, got %d", s.QuizzesCompleted)
	}
	if s.OverallAccuracy != 58.33 {
		t.Fatalf("expected accuracy 58.33, got %v", s.OverallAccuracy)
	}
	if s.AvgTimePerQuestion != 12 {
		t.Fatalf("expected 12s per question, got %v", s.AvgTimePerQuestion)
	}
	if s.DifficultyPerformance[DifficultyEasy] != 75 || s.DifficultyPerformance[DifficultyHard] != 25 {
		t.Fatalf("unexpected difficulty performance: %v", s.DifficultyPerformance)
	}
	if len(s.StrongTopics) != 1 || s.StrongTopics[0] != "Java" {
		t.Fatalf("unexpected strong topics: %v", s.StrongTopics)
	}
	if len(s.WeakTopics) != 1 || s.WeakTopics[0] != "Python" {
		t.Fatalf("unexpected weak topics: %v", s.WeakTopics)
	}
	if len(s.WeakConcepts) != 1 || s.WeakConcepts[0] != "Python basics" {
		t.Fatalf("unexpected weak concepts: %v", s.WeakConcepts)
	}
	if s.Hash() != BuildPerformanceSummary(attempts).Hash() {
		t.Fatalf("hash should be stable")
	}
}

func TestPerformanceService_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{attempts: []QuizAttempt{completedAttempt("Java", DifficultyEasy, true, false)}}
	gen := &fakeFeedback{text: "Review Java basics."}
	ps := NewPerformanceService(lister, gen, nil)

	first, err := ps.Report(ctx, "alice")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if first.Feedback != "Review Java basics." || first.Cached {
		t.Fatalf("unexpected first report: %+v", first)
	}
	second, err := ps.Report(ctx, "alice")
	if err != nil || !second.Cached || gen.calls != 1 {
		t.Fatalf("expected cached report, got %+v calls=%d %v", second, gen.calls, err)
	}

	lister.attempts = append(lister.attempts, completedAttempt("Python", DifficultyEasy, true))
	if _, err := ps.Report(ctx, "alice"); err != nil || gen.calls != 2 {
		t.Fatalf("changed summary should regenerate, calls=%d %v", gen.calls, err)
	}

	if err := ps.InvalidateFeedback(ctx, "alice"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := ps.Report(ctx, "alice"); err != nil || gen.calls != 3 {
		t.Fatalf("invalidated cache should regenerate, calls=%d %v", gen.calls, err)
	}
}

func TestPerformanceService_FallbackIsNotCached(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{attempts: []QuizAttempt{completedAttempt("Java", DifficultyEasy, true)}}
	gen := &fakeFeedback{err: errors.New("rate limited")}
	ps := NewPerformanceService(lister, gen, nil)

	r, err := ps.Report(ctx, "alice")
	if err != nil || r.Feedback != FallbackFeedback {
		t.Fatalf("expected fallback, got %+v %v", r, err)
	}

	gen.err = nil
	gen.text = "Great work."
	r, err = ps.Report(ctx, "alice")
	if err != nil || r.Feedback != "Great work." || r.Cached {
		t.Fatalf("fallback should not have been cached: %+v %v", r, err)
	}
}

func TestPerformanceService_NoCompletedAttempts(t *testing.T) {
	gen := &fakeFeedback{text: "unused"}
	ps := NewPerformanceService(&fakeLister{attempts: []QuizAttempt{{Status: StatusAbandoned}}}, gen, nil)
	r, err := ps.Report(context.Background(), "alice")
	if err != nil || r.Feedback != noAttemptsFeedback || gen.calls != 0 {
		t.Fatalf("unexpected report: %+v %v calls=%d", r, err, gen.calls)
	}

	none := NewPerformanceService(&fakeLister{attempts: []QuizAttempt{completedAttempt("Java", DifficultyEasy, true)}}, nil, nil)
	r, err = none.Report(context.Background(), "alice")
	if err != nil || r.Feedback != FallbackFeedback {
		t.Fatalf("expected fallback without a generator, got %+v %v", r, err)
	}
}

func TestMemoryFeedbackCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryFeedbackCache()
	if _, ok, _ := c.Get(ctx, "alice", "h1"); ok {
		t.Fatalf("empty cache returned a hit")
	}
	c.Set(ctx, "alice", "h1", "text")
	c.Set(ctx, "bob", "h1", "other")
	if text, ok, _ := c.Get(ctx, "alice", "h1"); !ok || text != "text" {
		t.Fatalf("expected hit, got %q %v", text, ok)
	}
	c.Invalidate(ctx, "alice")
	if _, ok, _ := c.Get(ctx, "alice", "h1"); ok {
		t.Fatalf("invalidated entry still cached")
	}
	if _, ok, _ := c.Get(ctx, "bob", "h1"); !ok {
		t.Fatalf("invalidation leaked to another user")
	}
}

func TestRedisFeedbackCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := NewRedisFeedbackCache(ctx, addr, time.Minute)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	user := "test-" + time.Now().Format("150405.000000")
	defer c.Invalidate(ctx, user)

	if _, ok, err := c.Get(ctx, user, "h1"); err != nil || ok {
		t.Fatalf("expected miss, got %v %v", ok, err)
	}
	if err := c.Set(ctx, user, "h1", "text"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if text, ok, err := c.Get(ctx, user, "h1"); err != nil || !ok || text != "text" {
		t.Fatalf("expected hit, got %q %v %v", text, ok, err)
	}
	if err := c.Invalidate(ctx, user); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, user, "h1"); ok {
		t.Fatalf("invalidated entry still cached")
	}
}
