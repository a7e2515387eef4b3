package quizapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// QuestionGenerator produces validated question records for a topic
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, req GenerationRequest) ([]QuestionRecord, error)
}

// QuestionMaker generates questions through an OpenAI-compatible chat completion API
type QuestionMaker struct {
	client *openai.Client
	model  string
}

// NewQuestionMaker creates a new question maker with OpenAI client
func NewQuestionMaker(apiKey string) *QuestionMaker {
	return &QuestionMaker{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4o,
	}
}

// NewQuestionMakerFromConfig honours the configured model and base URL
func NewQuestionMakerFromConfig(cfg Config) *QuestionMaker {
	model := cfg.OpenAIModel
	if model == "" {
		model = openai.GPT4o
	}
	return &QuestionMaker{
		client: NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL),
		model:  model,
	}
}

// NewOpenAIClient builds a client, pointing it at baseURL when one is given
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	oc := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		oc.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(oc)
}

// Model returns the model name used for generation
func (qm *QuestionMaker) Model() string {
	return qm.model
}

// GenerateQuestions asks the model for req.Count questions and validates the reply
func (qm *QuestionMaker) GenerateQuestions(ctx context.Context, req GenerationRequest) ([]QuestionRecord, error) {
	if req.Count <= 0 {
		return nil, fmt.Errorf("question count must be positive, got %d", req.Count)
	}
	logger.Infow("generating questions", "topic", req.Topic, "difficulty", req.Difficulty, "count", req.Count, "concepts", len(req.Concepts))

	prompt := qm.buildPrompt(req)
	transcript := LLMLoggerFromContext(ctx)
	if transcript != nil {
		transcript.LogLLMRequest("QuestionMaker", prompt)
	}

	resp, err := qm.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       qm.model,
			Temperature: 0.2,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You are an expert quiz question generator. Generate high-quality multiple choice questions with exactly 4 options each.",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Tools: []openai.Tool{
				{
					Type: openai.ToolTypeFunction,
					Function: &openai.FunctionDefinition{
						Name:        "submit_questions",
						Description: "Submit generated quiz questions",
						Parameters:  submitQuestionsSchema(),
					},
				},
			},
			ToolChoice: openai.ToolChoice{
				Type: openai.ToolTypeFunction,
				Function: openai.ToolFunction{
					Name: "submit_questions",
				},
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate questions: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &RecordError{Index: -1, Reason: "no choices in response"}
	}

	msg := resp.Choices[0].Message
	raw, err := toolArguments(msg)
	if transcript != nil {
		transcript.LogLLMResponse("QuestionMaker", raw)
	}
	if err != nil {
		return nil, err
	}

	records, err := decodeSubmittedQuestions(raw, req.Count)
	if err != nil {
		return nil, err
	}
	VerboseLog("generated %d questions for %s", len(records), req.Topic)
	return records, nil
}

// toolArguments returns the submit_questions arguments, or the message content when the
// model answered in plain text instead of calling the tool
func toolArguments(msg openai.ChatCompletionMessage) (string, error) {
	if len(msg.ToolCalls) == 0 {
		if strings.TrimSpace(msg.Content) == "" {
			return "", &RecordError{Index: -1, Reason: "no tool calls in response"}
		}
		return msg.Content, nil
	}
	call := msg.ToolCalls[0]
	if call.Function.Name != "submit_questions" {
		return "", &RecordError{Index: -1, Reason: "unexpected tool call: " + call.Function.Name}
	}
	return call.Function.Arguments, nil
}

func decodeSubmittedQuestions(raw string, count int) ([]QuestionRecord, error) {
	trimmed := strings.TrimSpace(CleanJSON(raw))
	if strings.HasPrefix(trimmed, "[") {
		return ParseQuestionRecords(trimmed, count)
	}
	var args struct {
		Questions []QuestionRecord `json:"questions"`
	}
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, &RecordError{Index: -1, Reason: fmt.Sprintf("failed to parse tool arguments: %v", err)}
	}
	if err := CheckQuestions(args.Questions, count); err != nil {
		return nil, err
	}
	return args.Questions, nil
}

func (qm *QuestionMaker) buildPrompt(req GenerationRequest) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Generate %d multiple choice questions.\n\n", req.Count))
	sb.WriteString(fmt.Sprintf("Topic: %s\n", req.Topic))
	if req.Category != "" {
		sb.WriteString(fmt.Sprintf("Category: %s\n", req.Category))
	}
	sb.WriteString(fmt.Sprintf("Difficulty: %s\n\n", req.Difficulty))

	if len(req.Concepts) > 0 {
		sb.WriteString("Cover these concepts, one question per concept, and put the concept name in the concept field:\n")
		for _, c := range req.Concepts {
			sb.WriteString("- " + c + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Requirements:\n")
	sb.WriteString("- Each question must have exactly 4 options: option_a, option_b, option_c, option_d\n")
	sb.WriteString("- correct_answer must be one of A, B, C or D\n")
	sb.WriteString("- Incorrect options should be plausible but clearly wrong\n")
	sb.WriteString("- Avoid questions where the answer is given away in the question text\n")
	sb.WriteString("- Provide a brief explanation for why the correct answer is right\n")
	sb.WriteString("- Use the submit_questions tool to return your questions\n")

	return sb.String()
}

func submitQuestionsSchema() map[string]interface{} {
	str := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"questions": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"question": str("The question text"),
						"option_a": str("Option A"),
						"option_b": str("Option B"),
						"option_c": str("Option C"),
						"option_d": str("Option D"),
						"correct_answer": map[string]interface{}{
							"type": "string",
							"enum": []string{AnswerA, AnswerB, AnswerC, AnswerD},
						},
						"explanation": str("Why the answer is correct"),
						"concept":     str("The concept this question tests"),
					},
					"required": []string{"question", "option_a", "option_b", "option_c", "option_d", "correct_answer", "explanation"},
				},
			},
		},
		"required": []string{"questions"},
	}
}

// IsRecordError reports whether err came from validating generator output
func IsRecordError(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}
