package quizapp

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrInvalidAnswer        = errors.New("invalid answer")
	ErrInvalidDifficulty    = errors.New("invalid difficulty")
	ErrNoCurrentQuestion    = errors.New("no more questions")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrSubCategoryNotFound  = errors.New("subcategory not found")
	ErrNotLeafSubCategory   = errors.New("subcategory is not a leaf")
	ErrAttemptClosed        = errors.New("attempt is already finished")
	ErrNotInProgress        = errors.New("attempt is not in progress")
	ErrAttemptNotFinished   = errors.New("attempt has not been completed")
	ErrInsufficientConcepts = errors.New("not enough concepts to steer generation")
)

// ActiveAttemptError is returned when the user already has an attempt in progress.
// Callers should offer to resume or quit AttemptID instead of starting a new one.
type ActiveAttemptError struct {
	AttemptID string
}

func (e *ActiveAttemptError) Error() string {
	return fmt.Sprintf("attempt %s is already in progress", e.AttemptID)
}

// SourcingError is returned when an attempt could not be filled with enough unique questions
type SourcingError struct {
	Needed int
	Found  int
	Reason string
	Err    error
}

func (e *SourcingError) Error() string {
	msg := fmt.Sprintf("insufficient unique questions: found %d of %d", e.Found, e.Needed)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourcingError) Unwrap() error { return e.Err }

// Shortfall is how many questions are missing
func (e *SourcingError) Shortfall() int {
	return e.Needed - e.Found
}

// Message is the user-facing explanation of the failure
func (e *SourcingError) Message() string {
	return fmt.Sprintf("We could not prepare enough new questions for this quiz (%d missing). Please try again later or pick another difficulty.", e.Shortfall())
}

// RecordError describes a generator response that failed validation
type RecordError struct {
	Index  int // -1 when the error concerns the whole response
	Reason string
}

func (e *RecordError) Error() string {
	if e.Index < 0 {
		return "invalid generator response: " + e.Reason
	}
	return fmt.Sprintf("invalid question %d: %s", e.Index+1, e.Reason)
}

// isUniqueViolation reports whether err is a unique constraint failure from either driver
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
