package quizapp

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newStoredAttempt(t *testing.T, db *DB, id, user string, sub *SubCategory, status AttemptStatus) *QuizAttempt {
	t.Helper()
	a := &QuizAttempt{
		ID:               id,
		UserID:           user,
		CategoryID:       &sub.CategoryID,
		SubCategoryID:    &sub.ID,
		Difficulty:       DifficultyMedium,
		Status:           status,
		TotalQuestions:   3,
		TimeLimitSeconds: 600,
	}
	if err := db.CreateAttempt(context.Background(), a); err != nil {
		t.Fatalf("create attempt %s: %v", id, err)
	}
	return a
}

func TestAttempts_OneInProgressPerUser(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sub := seedLeaf(t, db, "Java", 0)

	newStoredAttempt(t, db, "a1", "alice", sub, StatusInProgress)
	newStoredAttempt(t, db, "b1", "bob", sub, StatusInProgress)
	second := newStoredAttempt(t, db, "a2", "alice", sub, StatusGenerating)

	second.Status = StatusInProgress
	err := db.SaveAttempt(ctx, second)
	var active *ActiveAttemptError
	if !errors.As(err, &active) {
		t.Fatalf("expected ActiveAttemptError, got %v", err)
	}
	if active.AttemptID != "a1" {
		t.Fatalf("expected conflict with a1, got %s", active.AttemptID)
	}

	dup := &QuizAttempt{ID: "a3", UserID: "alice", Difficulty: DifficultyEasy, Status: StatusInProgress}
	if err := db.CreateAttempt(ctx, dup); !errors.As(err, &active) {
		t.Fatalf("expected ActiveAttemptError on insert, got %v", err)
	}

	got, err := db.ActiveAttempt(ctx, "alice")
	if err != nil || got == nil || got.ID != "a1" {
		t.Fatalf("expected a1 active, got %v %v", got, err)
	}
	if got.SubCategoryName != "Java" || got.CategoryName != "Academic" {
		t.Fatalf("expected joined names, got %q %q", got.CategoryName, got.SubCategoryName)
	}
	none, err := db.ActiveAttempt(ctx, "carol")
	if err != nil || none != nil {
		t.Fatalf("expected no active attempt, got %v %v", none, err)
	}
}

func TestAttempts_SaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sub := seedLeaf(t, db, "Java", 0)
	a := newStoredAttempt(t, db, "a1", "alice", sub, StatusGenerating)

	answer := AnswerB
	wrong := false
	remaining := 420
	started := testEpoch
	a.Questions = questionSet(3, "Java")
	a.Questions[0].UserAnswer = &answer
	a.Questions[0].IsCorrect = &wrong
	a.Meta = GenerationMeta{Model: "gpt-4o", FromBank: 1, Generated: 2, Retries: 1}
	a.Status = StatusInProgress
	a.CurrentQuestionIndex = 1
	a.RemainingSeconds = &remaining
	a.StartedAt = &started
	if err := db.SaveAttempt(ctx, a); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := db.GetAttempt(ctx, "a1", "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusInProgress || got.CurrentQuestionIndex != 1 || len(got.Questions) != 3 {
		t.Fatalf("unexpected attempt: %+v", got)
	}
	if got.Questions[0].UserAnswer == nil || *got.Questions[0].UserAnswer != AnswerB || *got.Questions[0].IsCorrect {
		t.Fatalf("answer not persisted: %+v", got.Questions[0])
	}
	if got.Meta.FromBank != 1 || got.Meta.Generated != 2 || got.Meta.Model != "gpt-4o" {
		t.Fatalf("meta not persisted: %+v", got.Meta)
	}
	if got.RemainingSeconds == nil || *got.RemainingSeconds != 420 {
		t.Fatalf("remaining not persisted: %v", got.RemainingSeconds)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("started_at not persisted: %v", got.StartedAt)
	}

	if _, err := db.GetAttempt(ctx, "a1", "bob"); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
	if _, err := db.GetAttempt(ctx, "a1", ""); err != nil {
		t.Fatalf("expected lookup without owner to work, got %v", err)
	}
	if err := db.SaveAttempt(ctx, &QuizAttempt{ID: "missing", UserID: "alice"}); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected not found on save, got %v", err)
	}
}

func TestRecentSeenTexts_OnlyCompletedWithinWindow(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sub := seedLeaf(t, db, "Java", 0)
	other := seedLeaf(t, db, "Python", 0)

	save := func(id string, s *SubCategory, status AttemptStatus, completed time.Time, prefix string) {
		a := newStoredAttempt(t, db, id, "alice", s, StatusGenerating)
		a.Questions = questionSet(2, prefix)
		a.Status = status
		a.CompletedAt = &completed
		if err := db.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	save("recent", sub, StatusCompleted, testEpoch.Add(-24*time.Hour), "recent")
	save("old", sub, StatusCompleted, testEpoch.Add(-10*24*time.Hour), "old")
	save("quit", sub, StatusAbandoned, testEpoch.Add(-time.Hour), "quit")
	save("python", other, StatusCompleted, testEpoch.Add(-time.Hour), "python")

	texts, err := db.RecentSeenTexts(ctx, "alice", sub.ID, testEpoch.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("recent seen: %v", err)
	}
	if len(texts) != 2 || texts[0] != "recent question 1?" || texts[1] != "recent question 2?" {
		t.Fatalf("unexpected seen texts: %v", texts)
	}
}

func TestAbandonStaleGenerating(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	clock := newTestClock()
	db.SetClock(clock.Now)
	sub := seedLeaf(t, db, "Java", 0)

	newStoredAttempt(t, db, "stale", "alice", sub, StatusGenerating)
	newStoredAttempt(t, db, "running", "bob", sub, StatusInProgress)
	clock.Advance(30 * time.Minute)
	newStoredAttempt(t, db, "fresh", "carol", sub, StatusGenerating)

	n, err := db.AbandonStaleGenerating(ctx, clock.Now().Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stale attempt, got %d", n)
	}
	for id, want := range map[string]AttemptStatus{"stale": StatusAbandoned, "running": StatusInProgress, "fresh": StatusGenerating} {
		a, err := db.GetAttempt(ctx, id, "")
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if a.Status != want {
			t.Fatalf("%s: expected %s, got %s", id, want, a.Status)
		}
	}
}

func TestLeaderboard_RanksByAverage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	clock := newTestClock()
	db.SetClock(clock.Now)
	sub := seedLeaf(t, db, "Java", 0)

	finish := func(id, user string, score float64) {
		a := newStoredAttempt(t, db, id, user, sub, StatusGenerating)
		a.Status = StatusCompleted
		a.Score = score
		if err := db.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
		clock.Advance(time.Minute)
	}
	finish("a1", "alice", 90)
	finish("a2", "alice", 70)
	finish("b1", "bob", 100)
	finish("c1", "carol", 40)
	newStoredAttempt(t, db, "c2", "carol", sub, StatusAbandoned)

	board, err := db.Leaderboard(ctx, 2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(board))
	}
	if board[0].UserID != "bob" || board[1].UserID != "alice" {
		t.Fatalf("unexpected order: %+v", board)
	}
	if board[1].Quizzes != 2 || board[1].AvgScore != 80 || board[1].BestScore != 90 {
		t.Fatalf("unexpected alice entry: %+v", board[1])
	}

	recent, err := db.ListAttempts(ctx, "carol", 0)
	if err != nil || len(recent) != 2 || recent[0].ID != "c2" {
		t.Fatalf("expected carol's attempts newest first, got %v %v", recent, err)
	}
}
