package quizapp

import (
	"fmt"
	"time"
)

// CurrentQuestion returns the question at the progress cursor
func (a *QuizAttempt) CurrentQuestion() (*AttemptQuestion, error) {
	if a.CurrentQuestionIndex < 0 || a.CurrentQuestionIndex >= len(a.Questions) {
		return nil, ErrNoCurrentQuestion
	}
	return &a.Questions[a.CurrentQuestionIndex], nil
}

// AnsweredCount is the number of questions with a recorded answer
func (a *QuizAttempt) AnsweredCount() int {
	n := 0
	for _, q := range a.Questions {
		if q.Answered() {
			n++
		}
	}
	return n
}

// IsComplete reports whether every question has been answered
func (a *QuizAttempt) IsComplete() bool {
	return len(a.Questions) > 0 && a.AnsweredCount() == len(a.Questions)
}

func (a *QuizAttempt) requireInProgress() error {
	switch {
	case a.Status == StatusInProgress:
		return nil
	case a.Status.Terminal():
		return fmt.Errorf("%w: %s is %s", ErrAttemptClosed, a.ID, a.Status)
	default:
		return fmt.Errorf("%w: %s is %s", ErrNotInProgress, a.ID, a.Status)
	}
}

// recordAnswer stores the answer for the current question and advances the cursor.
// Nothing changes when the tag or the cursor is invalid.
func (a *QuizAttempt) recordAnswer(answer string) error {
	if err := a.requireInProgress(); err != nil {
		return err
	}
	tag, err := ParseAnswer(answer)
	if err != nil {
		return err
	}
	q, err := a.CurrentQuestion()
	if err != nil {
		return err
	}

	correct := tag == q.CorrectAnswer
	q.UserAnswer = &tag
	q.IsCorrect = &correct
	a.CurrentQuestionIndex++
	return nil
}

// goBack moves the cursor back one question. Recorded answers are kept.
func (a *QuizAttempt) goBack() error {
	if err := a.requireInProgress(); err != nil {
		return err
	}
	if a.CurrentQuestionIndex > 0 {
		a.CurrentQuestionIndex--
	}
	return nil
}

// finalize scores the attempt and closes it as completed. A completed attempt is left as is.
func (a *QuizAttempt) finalize(now time.Time) {
	if a.Status == StatusCompleted {
		return
	}
	attempted, correct := 0, 0
	for _, q := range a.Questions {
		if !q.Answered() {
			continue
		}
		attempted++
		if q.IsCorrect != nil && *q.IsCorrect {
			correct++
		}
	}
	a.AttemptedQuestions = attempted
	a.CorrectAnswers = correct
	a.Score = Score(correct, a.TotalQuestions)

	a.stopClock(now)
	a.TimeTakenSeconds = a.TimeSpentSeconds
	t := now
	a.CompletedAt = &t
	a.Status = StatusCompleted
}

// abandon closes the attempt without scoring it
func (a *QuizAttempt) abandon(now time.Time) {
	if a.Status.Terminal() {
		return
	}
	a.stopClock(now)
	t := now
	a.CompletedAt = &t
	a.Status = StatusAbandoned
}
