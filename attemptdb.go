package quizapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const attemptSelect = `SELECT a.id, a.user_id, a.category_id, a.subcategory_id, a.difficulty, a.status, a.questions, a.ai_meta,
	a.total_questions, a.current_question_index, a.time_limit_seconds, a.time_spent_seconds, a.remaining_seconds,
	a.time_taken_seconds, a.correct_answers, a.attempted_questions, a.score, a.started_at, a.paused_at, a.completed_at,
	a.created_at, a.updated_at,
	COALESCE(c.name, '') AS category_name, COALESCE(s.name, '') AS subcategory_name
	FROM quiz_attempts a
	LEFT JOIN categories c ON c.id = a.category_id
	LEFT JOIN subcategories s ON s.id = a.subcategory_id`

// CreateAttempt inserts a new attempt row
func (db *DB) CreateAttempt(ctx context.Context, a *QuizAttempt) error {
	now := db.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := db.db.NamedExecContext(ctx, `INSERT INTO quiz_attempts (
			id, user_id, category_id, subcategory_id, difficulty, status, questions, ai_meta, total_questions,
			current_question_index, time_limit_seconds, time_spent_seconds, remaining_seconds, time_taken_seconds,
			correct_answers, attempted_questions, score, started_at, paused_at, completed_at, created_at, updated_at
		) VALUES (
			:id, :user_id, :category_id, :subcategory_id, :difficulty, :status, :questions, :ai_meta, :total_questions,
			:current_question_index, :time_limit_seconds, :time_spent_seconds, :remaining_seconds, :time_taken_seconds,
			:correct_answers, :attempted_questions, :score, :started_at, :paused_at, :completed_at, :created_at, :updated_at
		)`, a)
	if err != nil {
		if isUniqueViolation(err) {
			return db.activeAttemptConflict(ctx, a.UserID, err)
		}
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

// SaveAttempt writes every mutable attempt column
func (db *DB) SaveAttempt(ctx context.Context, a *QuizAttempt) error {
	a.UpdatedAt = db.now()
	res, err := db.db.NamedExecContext(ctx, `UPDATE quiz_attempts SET
			status = :status, questions = :questions, ai_meta = :ai_meta, total_questions = :total_questions,
			current_question_index = :current_question_index, time_limit_seconds = :time_limit_seconds,
			time_spent_seconds = :time_spent_seconds, remaining_seconds = :remaining_seconds,
			time_taken_seconds = :time_taken_seconds, correct_answers = :correct_answers,
			attempted_questions = :attempted_questions, score = :score, started_at = :started_at,
			paused_at = :paused_at, completed_at = :completed_at, updated_at = :updated_at
		WHERE id = :id`, a)
	if err != nil {
		if isUniqueViolation(err) {
			return db.activeAttemptConflict(ctx, a.UserID, err)
		}
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrAttemptNotFound, a.ID)
	}
	return nil
}

func (db *DB) activeAttemptConflict(ctx context.Context, userID string, cause error) error {
	active, err := db.ActiveAttempt(ctx, userID)
	if err != nil || active == nil {
		return fmt.Errorf("attempt already in progress: %w", cause)
	}
	return &ActiveAttemptError{AttemptID: active.ID}
}

// GetAttempt retrieves an attempt owned by userID. An empty userID skips the ownership check.
func (db *DB) GetAttempt(ctx context.Context, id, userID string) (*QuizAttempt, error) {
	query := attemptSelect + " WHERE a.id = ?"
	args := []interface{}{id}
	if userID != "" {
		query += " AND a.user_id = ?"
		args = append(args, userID)
	}

	var a QuizAttempt
	if err := db.db.GetContext(ctx, &a, db.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAttemptNotFound, id)
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return &a, nil
}

// ActiveAttempt returns the user's in-progress attempt, or nil if there is none
func (db *DB) ActiveAttempt(ctx context.Context, userID string) (*QuizAttempt, error) {
	var a QuizAttempt
	err := db.db.GetContext(ctx, &a,
		db.db.Rebind(attemptSelect+" WHERE a.user_id = ? AND a.status = ? ORDER BY a.created_at DESC LIMIT 1"),
		userID, StatusInProgress,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active attempt: %w", err)
	}
	return &a, nil
}

// ListAttempts returns the user's attempts, newest first. limit <= 0 returns all of them.
func (db *DB) ListAttempts(ctx context.Context, userID string, limit int) ([]QuizAttempt, error) {
	query := attemptSelect + " WHERE a.user_id = ? ORDER BY a.created_at DESC"
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var out []QuizAttempt
	if err := db.db.SelectContext(ctx, &out, db.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return out, nil
}

// RecentSeenTexts collects the question texts of the user's completed attempts for a
// subcategory that finished at or after since
func (db *DB) RecentSeenTexts(ctx context.Context, userID string, subCategoryID int64, since time.Time) ([]string, error) {
	var rows []AttemptQuestions
	err := db.db.SelectContext(ctx, &rows,
		db.db.Rebind(`SELECT questions FROM quiz_attempts
			WHERE user_id = ? AND subcategory_id = ? AND status = ? AND completed_at >= ? AND questions IS NOT NULL`),
		userID, subCategoryID, StatusCompleted, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent questions: %w", err)
	}

	seen := make(map[string]struct{})
	var texts []string
	for _, qs := range rows {
		for _, q := range qs {
			if _, ok := seen[q.Question]; ok {
				continue
			}
			seen[q.Question] = struct{}{}
			texts = append(texts, q.Question)
		}
	}
	return texts, nil
}

// AbandonStaleGenerating moves attempts stuck in GENERATING since before cutoff to
// ABANDONED and returns how many were changed
func (db *DB) AbandonStaleGenerating(ctx context.Context, cutoff time.Time) (int64, error) {
	now := db.now()
	res, err := db.db.ExecContext(ctx,
		db.db.Rebind(`UPDATE quiz_attempts SET status = ?, started_at = NULL, paused_at = NULL, completed_at = ?, updated_at = ?
			WHERE status = ? AND created_at < ?`),
		StatusAbandoned, now, now, StatusGenerating, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon stale attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to abandon stale attempts: %w", err)
	}
	return n, nil
}

// LeaderboardEntry is one user's standing across completed attempts
type LeaderboardEntry struct {
	UserID    string  `db:"user_id" json:"user_id"`
	Quizzes   int     `db:"quizzes" json:"quizzes"`
	AvgScore  float64 `db:"avg_score" json:"avg_score"`
	BestScore float64 `db:"best_score" json:"best_score"`
}

// Leaderboard ranks users by average score over completed attempts
func (db *DB) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []LeaderboardEntry
	err := db.db.SelectContext(ctx, &out,
		db.db.Rebind(`SELECT user_id, COUNT(*) AS quizzes, AVG(score) AS avg_score, MAX(score) AS best_score
			FROM quiz_attempts WHERE status = ?
			GROUP BY user_id
			ORDER BY avg_score DESC, quizzes DESC, user_id
			LIMIT ?`),
		StatusCompleted, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	return out, nil
}
