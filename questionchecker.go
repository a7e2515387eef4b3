package quizapp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	codeFence = regexp.MustCompile("^```(?:json)?")
	jsonArray = regexp.MustCompile(`(?s)(\[\s*\{.*\}\s*\])`)
)

// CleanJSON strips markdown code fences around a model reply and extracts the JSON array
// if the reply wraps it in prose.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimSpace(codeFence.ReplaceAllString(text, ""))
	}
	if strings.HasSuffix(text, "```") {
		text = strings.TrimSpace(strings.TrimSuffix(text, "```"))
	}
	if m := jsonArray.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// ParseQuestionRecords decodes a JSON array of question records and validates it
func ParseQuestionRecords(raw string, count int) ([]QuestionRecord, error) {
	var records []QuestionRecord
	if err := json.Unmarshal([]byte(CleanJSON(raw)), &records); err != nil {
		return nil, &RecordError{Index: -1, Reason: fmt.Sprintf("not a JSON array of questions: %v", err)}
	}
	if err := CheckQuestions(records, count); err != nil {
		return nil, err
	}
	return records, nil
}

// CheckQuestions validates a generator response: between one and count records, every
// required field present and the correct answer one of A-D. Answer tags are upper-cased
// in place.
func CheckQuestions(records []QuestionRecord, count int) error {
	if len(records) == 0 || len(records) > count {
		return &RecordError{Index: -1, Reason: fmt.Sprintf("expected %d questions, got %d", count, len(records))}
	}
	for i := range records {
		if err := CheckQuestion(&records[i]); err != nil {
			return &RecordError{Index: i, Reason: err.Error()}
		}
	}
	return nil
}

// CheckQuestion validates a single record
func CheckQuestion(r *QuestionRecord) error {
	required := []struct {
		name  string
		value string
	}{
		{"question", r.Question},
		{"option_a", r.OptionA},
		{"option_b", r.OptionB},
		{"option_c", r.OptionC},
		{"option_d", r.OptionD},
		{"correct_answer", r.CorrectAnswer},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("missing field: %s", f.name)
		}
	}
	tag, err := ParseAnswer(r.CorrectAnswer)
	if err != nil {
		return fmt.Errorf("correct_answer must be A/B/C/D, got %q", r.CorrectAnswer)
	}
	r.CorrectAnswer = tag
	r.Question = strings.TrimSpace(r.Question)
	return nil
}
