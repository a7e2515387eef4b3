package quizapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LLMLogger writes a transcript of every model interaction made while sourcing one attempt
type LLMLogger struct {
	file      *os.File
	mu        sync.Mutex
	attemptID string
}

// NewLLMLogger creates <dir>/<attemptID>.log and writes the request header
func NewLLMLogger(dir, attemptID string, req GenerationRequest) (*LLMLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := filepath.Join(dir, fmt.Sprintf("%s.log", attemptID))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	ll := &LLMLogger{
		file:      file,
		attemptID: attemptID,
	}

	ll.Logf("=== Question Sourcing Log ===\n")
	ll.Logf("Attempt ID: %s\n", attemptID)
	ll.Logf("Topic: %s (%s)\n", req.Topic, req.Category)
	ll.Logf("Questions: %d\n", req.Count)
	ll.Logf("Difficulty: %s\n", req.Difficulty)
	ll.Logf("Started: %s\n", time.Now().Format(time.RFC3339))
	ll.Logf("========================\n\n")

	return ll, nil
}

// Logf writes a formatted log entry with timestamp
func (ll *LLMLogger) Logf(format string, args ...interface{}) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	if ll.file == nil {
		return
	}

	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(ll.file, "[%s] %s", timestamp, fmt.Sprintf(format, args...))
	ll.file.Sync()
}

// LogLLMRequest logs an LLM request
func (ll *LLMLogger) LogLLMRequest(module, prompt string) {
	ll.Logf("=== LLM REQUEST (%s) ===\n", module)
	ll.Logf("Prompt:\n%s\n", prompt)
	ll.Logf("=====================\n\n")
}

// LogLLMResponse logs an LLM response
func (ll *LLMLogger) LogLLMResponse(module, response string) {
	ll.Logf("=== LLM RESPONSE (%s) ===\n", module)
	ll.Logf("Response:\n%s\n", response)
	ll.Logf("======================\n\n")
}

// LogRetry records the outcome of one generation round
func (ll *LLMLogger) LogRetry(round, accepted, skipped int, err error) {
	if err != nil {
		ll.Logf("Round %d failed: %v\n", round, err)
		return
	}
	ll.Logf("Round %d: %d accepted, %d skipped as duplicates\n", round, accepted, skipped)
}

// Close writes the footer and closes the file
func (ll *LLMLogger) Close() error {
	ll.Logf("=== Sourcing Complete ===\n")
	ll.Logf("Completed: %s\n", time.Now().Format(time.RFC3339))

	ll.mu.Lock()
	defer ll.mu.Unlock()
	if ll.file == nil {
		return nil
	}
	err := ll.file.Close()
	ll.file = nil
	return err
}

type llmLoggerKey struct{}

// WithLLMLogger attaches a transcript logger to ctx
func WithLLMLogger(ctx context.Context, ll *LLMLogger) context.Context {
	return context.WithValue(ctx, llmLoggerKey{}, ll)
}

// LLMLoggerFromContext returns the transcript logger attached to ctx, if any
func LLMLoggerFromContext(ctx context.Context) *LLMLogger {
	ll, _ := ctx.Value(llmLoggerKey{}).(*LLMLogger)
	return ll
}
