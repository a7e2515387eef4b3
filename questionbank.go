package quizapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// InsertResult is the outcome of adding a question to the bank. A fingerprint collision
// is an expected result, reported through Duplicate rather than an error.
type InsertResult struct {
	Question  *Question
	Duplicate bool
}

const questionColumns = `id, category_id, subcategory_id, difficulty, question_text, option_a, option_b, option_c, option_d,
	correct_answer, explanation, concept, normalized_hash, source, usage_count, created_at`

// FindUnseen returns up to limit bank questions for the subcategory and difficulty whose
// text is not in excluded, in random order. Each returned question has its usage count
// bumped.
func (db *DB) FindUnseen(ctx context.Context, subCategoryID int64, difficulty Difficulty, excluded []string, limit int) ([]Question, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := "SELECT " + questionColumns + " FROM questions WHERE subcategory_id = ? AND difficulty = ?"
	args := []interface{}{subCategoryID, difficulty}
	if len(excluded) > 0 {
		query += " AND question_text NOT IN (?)"
		args = append(args, excluded)
	}
	query += " ORDER BY RANDOM() LIMIT ?"
	args = append(args, limit)

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build bank query: %w", err)
	}

	var questions []Question
	if err := db.db.SelectContext(ctx, &questions, db.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query question bank: %w", err)
	}
	if len(questions) == 0 {
		return questions, nil
	}

	ids := make([]int64, len(questions))
	for i := range questions {
		ids[i] = questions[i].ID
	}
	if err := db.incrementUsage(ctx, ids); err != nil {
		return nil, err
	}
	for i := range questions {
		questions[i].UsageCount++
	}
	return questions, nil
}

func (db *DB) incrementUsage(ctx context.Context, ids []int64) error {
	query, args, err := sqlx.In("UPDATE questions SET usage_count = usage_count + 1 WHERE id IN (?)", ids)
	if err != nil {
		return fmt.Errorf("failed to build usage update: %w", err)
	}
	if _, err := db.db.ExecContext(ctx, db.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to increment usage count: %w", err)
	}
	return nil
}

// InsertIfNew stores q unless a question with the same fingerprint exists. The unique
// index on normalized_hash decides races between concurrent inserts; the loser sees a
// duplicate result.
func (db *DB) InsertIfNew(ctx context.Context, q *Question) (InsertResult, error) {
	if q.Source == "" {
		q.Source = SourceAI
	}
	q.Fingerprint = Fingerprint(q.QuestionText)
	q.UsageCount = 1
	q.CreatedAt = db.now()

	err := db.db.QueryRowxContext(ctx,
		db.db.Rebind(`INSERT INTO questions (category_id, subcategory_id, difficulty, question_text, option_a, option_b, option_c, option_d,
			correct_answer, explanation, concept, normalized_hash, source, usage_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (normalized_hash) DO NOTHING
			RETURNING id`),
		q.CategoryID, q.SubCategoryID, q.Difficulty, q.QuestionText, q.OptionA, q.OptionB, q.OptionC, q.OptionD,
		q.CorrectAnswer, q.Explanation, q.Concept, q.Fingerprint, q.Source, q.UsageCount, q.CreatedAt,
	).Scan(&q.ID)

	switch {
	case err == nil:
		return InsertResult{Question: q}, nil
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		VerboseLog("bank already holds fingerprint %s", q.Fingerprint[:12])
		return InsertResult{Duplicate: true}, nil
	default:
		return InsertResult{}, fmt.Errorf("failed to insert question: %w", err)
	}
}

// GetByFingerprint retrieves a bank question by its normalized hash
func (db *DB) GetByFingerprint(ctx context.Context, fingerprint string) (*Question, error) {
	var q Question
	err := db.db.GetContext(ctx, &q, db.db.Rebind("SELECT "+questionColumns+" FROM questions WHERE normalized_hash = ?"), fingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return &q, nil
}

// FingerprintExists reports whether the bank already holds a question with this hash
func (db *DB) FingerprintExists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := db.db.GetContext(ctx, &exists, db.db.Rebind("SELECT EXISTS(SELECT 1 FROM questions WHERE normalized_hash = ?)"), fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	return exists, nil
}

// CountQuestions returns the bank size for a subcategory and difficulty
func (db *DB) CountQuestions(ctx context.Context, subCategoryID int64, difficulty Difficulty) (int, error) {
	var n int
	err := db.db.GetContext(ctx, &n, db.db.Rebind("SELECT COUNT(*) FROM questions WHERE subcategory_id = ? AND difficulty = ?"), subCategoryID, difficulty)
	if err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}
	return n, nil
}
