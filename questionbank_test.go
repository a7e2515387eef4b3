package quizapp

import (
	"context"
	"testing"
)

func TestInsertIfNew_DetectsNormalizedDuplicates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sub := seedLeaf(t, db, "Java", 0)

	first, err := db.InsertIfNew(ctx, bankQuestion(sub, "What is Java?"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first.Duplicate || first.Question == nil || first.Question.ID == 0 {
		t.Fatalf("expected a new bank entry, got %+v", first)
	}

	again, err := db.InsertIfNew(ctx, bankQuestion(sub, "what   is JAVA"))
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if !again.Duplicate {
		t.Fatalf("expected duplicate for differently cased text")
	}

	n, err := db.CountQuestions(ctx, sub.ID, DifficultyMedium)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 bank question, got %d", n)
	}

	stored, err := db.GetByFingerprint(ctx, Fingerprint("What is Java?"))
	if err != nil || stored == nil {
		t.Fatalf("lookup by fingerprint: %v %v", stored, err)
	}
	if stored.QuestionText != "What is Java?" || stored.Source != SourceManual || stored.UsageCount != 1 {
		t.Fatalf("unexpected stored question: %+v", stored)
	}
	exists, err := db.FingerprintExists(ctx, Fingerprint("What is Python?"))
	if err != nil || exists {
		t.Fatalf("unexpected fingerprint hit: %v %v", exists, err)
	}
}

func TestFindUnseen_ExcludesSeenAndBumpsUsage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sub := seedLeaf(t, db, "Java", 0)

	texts := []string{"Q one?", "Q two?", "Q three?"}
	for _, text := range texts {
		if _, err := db.InsertIfNew(ctx, bankQuestion(sub, text)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := db.FindUnseen(ctx, sub.ID, DifficultyMedium, []string{"Q two?"}, 10)
	if err != nil {
		t.Fatalf("find unseen: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 unseen questions, got %d", len(got))
	}
	for _, q := range got {
		if q.QuestionText == "Q two?" {
			t.Fatalf("excluded question returned")
		}
		if q.UsageCount != 2 {
			t.Fatalf("expected usage count 2, got %d", q.UsageCount)
		}
	}

	stored, err := db.GetByFingerprint(ctx, Fingerprint("Q two?"))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stored.UsageCount != 1 {
		t.Fatalf("excluded question usage changed to %d", stored.UsageCount)
	}

	limited, err := db.FindUnseen(ctx, sub.ID, DifficultyMedium, nil, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d %v", len(limited), err)
	}
	none, err := db.FindUnseen(ctx, sub.ID, DifficultyHard, nil, 5)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no hard questions, got %d %v", len(none), err)
	}
}
