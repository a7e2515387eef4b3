package quizapp

import "time"

// sessionOpen reports whether the attempt's clock is currently running
func (a *QuizAttempt) sessionOpen() bool {
	return a.StartedAt != nil && a.PausedAt == nil
}

// SessionElapsed is the number of whole seconds since the current session was anchored.
// It is zero while paused or once the attempt is finished.
func (a *QuizAttempt) SessionElapsed(now time.Time) int {
	if !a.sessionOpen() {
		return 0
	}
	d := now.Sub(*a.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// ServerRemaining computes the remaining time from the accumulated and in-session time,
// clamped at zero
func (a *QuizAttempt) ServerRemaining(now time.Time) int {
	return clampRemaining(a.TimeLimitSeconds - (a.TimeSpentSeconds + a.SessionElapsed(now)))
}

// EffectiveRemaining picks the time shown to the user. A positive client checkpoint wins
// over the server computation.
func EffectiveRemaining(client *int, server int) int {
	if client != nil && *client > 0 {
		return clampRemaining(*client)
	}
	return clampRemaining(server)
}

// EffectiveRemaining applies the client-over-server rule to this attempt
func (a *QuizAttempt) EffectiveRemaining(now time.Time) int {
	return EffectiveRemaining(a.RemainingSeconds, a.ServerRemaining(now))
}

func clampRemaining(s int) int {
	if s < 0 {
		return 0
	}
	return s
}

// ApplyCheckpoint stores a client-reported remaining time and mirrors it into
// time_spent_seconds. An open session is re-anchored at now so the reported time is not
// counted twice.
func (a *QuizAttempt) ApplyCheckpoint(remaining int, now time.Time) {
	remaining = clampRemaining(remaining)
	if remaining > a.TimeLimitSeconds {
		remaining = a.TimeLimitSeconds
	}
	a.RemainingSeconds = &remaining
	a.TimeSpentSeconds = a.TimeLimitSeconds - remaining
	if a.sessionOpen() {
		t := now
		a.StartedAt = &t
	}
}

// flushSession moves the in-session time into time_spent_seconds and re-anchors the session
func (a *QuizAttempt) flushSession(now time.Time) {
	if !a.sessionOpen() {
		return
	}
	a.TimeSpentSeconds += a.SessionElapsed(now)
	t := now
	a.StartedAt = &t
}

// pauseClock flushes the open session and stamps paused_at
func (a *QuizAttempt) pauseClock(now time.Time) {
	a.flushSession(now)
	if a.PausedAt == nil {
		t := now
		a.PausedAt = &t
	}
}

// resumeClock starts a fresh session; time already spent stays in time_spent_seconds
func (a *QuizAttempt) resumeClock(now time.Time) {
	t := now
	a.PausedAt = nil
	a.StartedAt = &t
}

// stopClock flushes the open session and clears both anchors
func (a *QuizAttempt) stopClock(now time.Time) {
	a.flushSession(now)
	a.StartedAt = nil
	a.PausedAt = nil
}
