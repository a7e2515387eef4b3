package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"quizapp"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
)

// ConceptSuggestion is the payload of the submit_concepts tool
type ConceptSuggestion struct {
	Concepts []string `json:"concepts"`
}

// ConceptGenerator proposes new concepts for a topic using an LLM
type ConceptGenerator struct {
	client *openai.Client
	model  string
}

// NewConceptGenerator creates a new concept generator
func NewConceptGenerator(cfg quizapp.Config) *ConceptGenerator {
	model := cfg.OpenAIModel
	if model == "" {
		model = openai.GPT4o
	}
	return &ConceptGenerator{
		client: quizapp.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL),
		model:  model,
	}
}

// DiscoverConcepts asks for count concepts of topic at the difficulty, none of them in existing
func (cg *ConceptGenerator) DiscoverConcepts(ctx context.Context, category, topic string, difficulty quizapp.Difficulty, existing []string, count int) ([]string, error) {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("List %d distinct concepts of %s (%s) suitable for %s multiple choice questions.\n\n", count, topic, category, difficulty))
	if len(existing) > 0 {
		prompt.WriteString("IMPORTANT: The concepts must be different from these existing ones:\n")
		for _, c := range existing {
			prompt.WriteString(fmt.Sprintf("- %s\n", c))
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("Requirements:\n")
	prompt.WriteString("- Each concept is a short name of two to four words\n")
	prompt.WriteString("- Each concept is narrow enough to ask a precise question about\n")
	prompt.WriteString(fmt.Sprintf("- Concepts match the %s level\n\n", difficulty))
	prompt.WriteString("Return the concepts using the submit_concepts tool.")

	resp, err := cg.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: cg.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You are a curriculum designer who breaks subjects into concepts that can each be examined with a single quiz question.",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt.String(),
				},
			},
			Tools: []openai.Tool{
				{
					Type: openai.ToolTypeFunction,
					Function: &openai.FunctionDefinition{
						Name:        "submit_concepts",
						Description: "Submit the discovered concepts",
						Parameters: map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"concepts": map[string]interface{}{
									"type":        "array",
									"description": "Concept names",
									"items":       map[string]interface{}{"type": "string"},
								},
							},
							"required": []string{"concepts"},
						},
					},
				},
			},
			ToolChoice: openai.ToolChoice{
				Type: openai.ToolTypeFunction,
				Function: openai.ToolFunction{
					Name: "submit_concepts",
				},
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to discover concepts: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from LLM")
	}
	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) == 0 {
		return nil, fmt.Errorf("no tool calls in response")
	}
	toolCall := choice.Message.ToolCalls[0]
	if toolCall.Function.Name != "submit_concepts" {
		return nil, fmt.Errorf("unexpected tool call: %s", toolCall.Function.Name)
	}

	var suggestion ConceptSuggestion
	if err := json.Unmarshal([]byte(quizapp.CleanJSON(toolCall.Function.Arguments)), &suggestion); err != nil {
		return nil, fmt.Errorf("failed to parse concepts: %w", err)
	}
	return suggestion.Concepts, nil
}

func main() {
	_ = godotenv.Load()
	cfg := quizapp.LoadConfig()

	var (
		seed          = flag.Bool("seed", false, "Load the built-in concept catalog")
		importFile    = flag.String("import", "", "Import concepts from an xlsx file (Category, Group, Topic, Difficulty, Concept)")
		sheet         = flag.String("sheet", "", "Sheet to import (default: first sheet)")
		templateFile  = flag.String("template", "", "Write the built-in catalog to an xlsx file and exit")
		subCategoryID = flag.Int64("subcategory", 0, "Leaf subcategory to discover concepts for")
		difficulty    = flag.String("difficulty", "medium", "Difficulty level (easy, medium, hard)")
		count         = flag.Int("count", 10, "Number of concepts to request")
		dbDriver      = flag.String("db-driver", cfg.DBDriver, "Database driver (sqlite3, postgres)")
		dbDSN         = flag.String("db", cfg.DBDSN, "Database DSN")
		verbose       = flag.Bool("verbose", cfg.Verbose, "Enable verbose output")
	)
	flag.Parse()

	quizapp.SetVerbose(*verbose)

	if *templateFile != "" {
		if err := quizapp.WriteConceptTemplate(*templateFile, quizapp.DefaultConceptRows()); err != nil {
			log.Fatalf("Failed to write template: %v", err)
		}
		fmt.Printf("📄 Template written to %s\n", *templateFile)
		return
	}

	db, err := quizapp.OpenDB(*dbDriver, *dbDSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.CloseDB()
	if err := db.CreateTables(); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch {
	case *seed:
		printImport("built-in catalog", quizapp.SeedDefaultConcepts(ctx, db))
	case *importFile != "":
		ic := quizapp.DefaultImportConfig()
		ic.FilePath = *importFile
		ic.SheetName = *sheet
		result, err := quizapp.ImportConceptsFromExcel(ctx, db, ic)
		if err != nil {
			log.Fatalf("Failed to import %s: %v", *importFile, err)
		}
		printImport(*importFile, result)
	case *subCategoryID != 0:
		if cfg.OpenAIKey == "" {
			log.Fatal("OpenAI API key is required. Set OPENAI_API_KEY environment variable.")
		}
		if err := discover(ctx, db, NewConceptGenerator(cfg), *subCategoryID, *difficulty, *count); err != nil {
			log.Fatalf("Failed to discover concepts: %v", err)
		}
	default:
		flag.Usage()
	}
}

func discover(ctx context.Context, db *quizapp.DB, cg *ConceptGenerator, subCategoryID int64, difficulty string, count int) error {
	d, err := quizapp.ParseDifficulty(difficulty)
	if err != nil {
		return err
	}
	sub, err := db.GetSubCategory(ctx, subCategoryID)
	if err != nil {
		return err
	}
	if !sub.IsLeaf {
		return fmt.Errorf("%w: %s", quizapp.ErrNotLeafSubCategory, sub.Name)
	}
	concepts, err := db.ListConcepts(ctx, sub.ID, d)
	if err != nil {
		return err
	}
	existing := make([]string, 0, len(concepts))
	for _, c := range concepts {
		existing = append(existing, c.Name)
	}
	fmt.Printf("📚 Found %d existing %s concepts for %s\n", len(existing), d, sub.Name)

	names, err := cg.DiscoverConcepts(ctx, sub.CategoryName, sub.Name, d, existing, count)
	if err != nil {
		return err
	}
	added := 0
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		inserted, err := db.AddConcept(ctx, sub.ID, d, name)
		if err != nil {
			return err
		}
		if inserted {
			added++
			fmt.Printf("  + %s\n", name)
		}
	}
	fmt.Printf("✅ %d new concepts, %d already known\n", added, len(names)-added)
	return nil
}

func printImport(source string, r *quizapp.ImportResult) {
	fmt.Printf("✅ Imported %s: %d rows, %d created, %d skipped\n", source, r.TotalProcessed, r.Created, r.Skipped)
	for _, e := range r.Errors {
		fmt.Printf("  ⚠️  %s\n", e)
	}
}
