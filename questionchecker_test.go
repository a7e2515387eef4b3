package quizapp

import (
	"errors"
	"testing"
)

func TestCleanJSON_StripsFencesAndProse(t *testing.T) {
	raw := "```json\n[{\"question\": \"Q?\"}]\n```"
	if got := CleanJSON(raw); got != `[{"question": "Q?"}]` {
		t.Fatalf("unexpected cleaned text: %q", got)
	}
	prose := "Here are your questions:\n[{\"question\": \"Q?\"}]\nEnjoy!"
	if got := CleanJSON(prose); got != `[{"question": "Q?"}]` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestCheckQuestions_AcceptsUpToCount(t *testing.T) {
	records := []QuestionRecord{testRecord("Q1?", "b"), testRecord("Q2?", "C")}
	if err := CheckQuestions(records, 4); err != nil {
		t.Fatalf("expected fewer-than-count response to pass, got %v", err)
	}
	if records[0].CorrectAnswer != AnswerB {
		t.Fatalf("answer tag not upper-cased: %q", records[0].CorrectAnswer)
	}
	if err := CheckQuestions(records, 1); err == nil {
		t.Fatalf("expected more-than-count response to fail")
	}
	if err := CheckQuestions(nil, 3); err == nil {
		t.Fatalf("expected empty response to fail")
	}
}

func TestCheckQuestions_ReportsBadRecord(t *testing.T) {
	bad := testRecord("Q2?", "E")
	missing := testRecord("Q3?", "A")
	missing.OptionC = " "

	err := CheckQuestions([]QuestionRecord{testRecord("Q1?", "A"), bad}, 5)
	var re *RecordError
	if !errors.As(err, &re) || re.Index != 1 {
		t.Fatalf("expected RecordError for record 1, got %v", err)
	}
	err = CheckQuestions([]QuestionRecord{missing}, 5)
	if !errors.As(err, &re) || re.Index != 0 || re.Reason != "missing field: option_c" {
		t.Fatalf("expected missing option_c, got %v", err)
	}
}

func TestParseQuestionRecords(t *testing.T) {
	raw := "```json\n[{\"question\":\"What is a mutex?\",\"option_a\":\"a\",\"option_b\":\"b\",\"option_c\":\"c\",\"option_d\":\"d\",\"correct_answer\":\"d\",\"explanation\":\"x\",\"concept\":\"Mutex\"}]\n```"
	records, err := ParseQuestionRecords(raw, 10)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 1 || records[0].CorrectAnswer != AnswerD || records[0].Concept != "Mutex" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if _, err := ParseQuestionRecords("not json", 10); !IsRecordError(err) {
		t.Fatalf("expected record error, got %v", err)
	}
}

func TestDecodeSubmittedQuestions_ToolArguments(t *testing.T) {
	raw := `{"questions":[{"question":"Q?","option_a":"a","option_b":"b","option_c":"c","option_d":"d","correct_answer":"A"}]}`
	records, err := decodeSubmittedQuestions(raw, 3)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one record, got %v %v", records, err)
	}
}
