package quizapp

import (
	"context"
	"fmt"
	"testing"
	"time"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock is a settable time source shared by the store and the engine in tests
type testClock struct {
	t time.Time
}

func newTestClock() *testClock { return &testClock{t: testEpoch} }

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.CloseDB() })
	if err := db.CreateTables(); err != nil {
		t.Fatalf("create tables: %v", err)
	}
	return db
}

// seedLeaf creates Academic > CSE > name with conceptCount concepts at medium difficulty
func seedLeaf(t *testing.T, db *DB, name string, conceptCount int) *SubCategory {
	t.Helper()
	ctx := context.Background()
	cat, err := db.CreateCategory(ctx, "Academic", "")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	group, err := db.CreateSubCategory(ctx, cat.ID, "CSE", nil)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	leaf, err := db.CreateSubCategory(ctx, cat.ID, name, &group.ID)
	if err != nil {
		t.Fatalf("create leaf: %v", err)
	}
	for i := 0; i < conceptCount; i++ {
		if _, err := db.AddConcept(ctx, leaf.ID, DifficultyMedium, fmt.Sprintf("%s concept %d", name, i+1)); err != nil {
			t.Fatalf("add concept: %v", err)
		}
	}
	leaf, err = db.GetSubCategory(ctx, leaf.ID)
	if err != nil {
		t.Fatalf("reload leaf: %v", err)
	}
	return leaf
}

func testRecord(text, answer string) QuestionRecord {
	return QuestionRecord{
		Question:      text,
		OptionA:       "first",
		OptionB:       "second",
		OptionC:       "third",
		OptionD:       "fourth",
		CorrectAnswer: answer,
		Explanation:   "because",
	}
}

func bankQuestion(sub *SubCategory, text string) *Question {
	return &Question{
		CategoryID:    sub.CategoryID,
		SubCategoryID: sub.ID,
		Difficulty:    DifficultyMedium,
		QuestionText:  text,
		OptionA:       "first",
		OptionB:       "second",
		OptionC:       "third",
		OptionD:       "fourth",
		CorrectAnswer: AnswerA,
		Source:        SourceManual,
	}
}

func questionSet(n int, prefix string) AttemptQuestions {
	qs := make(AttemptQuestions, n)
	for i := range qs {
		qs[i] = AttemptQuestion{
			ID:            i + 1,
			Question:      fmt.Sprintf("%s question %d?", prefix, i+1),
			OptionA:       "first",
			OptionB:       "second",
			OptionC:       "third",
			OptionD:       "fourth",
			CorrectAnswer: AnswerA,
		}
	}
	return qs
}
