package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"quizapp"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := quizapp.LoadConfig()

	var (
		subCategoryID = flag.Int64("subcategory", 0, "Leaf subcategory id (required)")
		difficulty    = flag.String("difficulty", "medium", "Difficulty level (easy, medium, hard)")
		numQuestions  = flag.Int("questions", cfg.QuestionsPerAttempt, "Number of questions to generate or play")
		outputFile    = flag.String("output", "", "Output file for the generated questions JSON (default: stdout)")
		dbDriver      = flag.String("db-driver", cfg.DBDriver, "Database driver (sqlite3, postgres)")
		dbDSN         = flag.String("db", cfg.DBDSN, "Database DSN")
		playMode      = flag.Bool("play", false, "Play an attempt interactively instead of filling the bank")
		user          = flag.String("user", "cli", "User id for play mode")
		verbose       = flag.Bool("verbose", cfg.Verbose, "Enable verbose debugging output")
	)
	flag.Parse()

	quizapp.SetVerbose(*verbose)

	if *subCategoryID == 0 {
		log.Fatal("Subcategory is required. Use -subcategory flag.")
	}
	if cfg.OpenAIKey == "" {
		log.Fatal("OpenAI API key is required. Set OPENAI_API_KEY environment variable.")
	}

	db, err := quizapp.OpenDB(*dbDriver, *dbDSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.CloseDB()
	if err := db.CreateTables(); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	maker := quizapp.NewQuestionMakerFromConfig(cfg)

	if *playMode {
		source := quizapp.NewQuestionSource(db, maker, cfg.SourceConfig())
		ec := cfg.EngineConfig()
		ec.QuestionsPerAttempt = *numQuestions
		playQuiz(quizapp.NewEngine(db, source, ec), *user, *subCategoryID, *difficulty)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	added, err := fillBank(ctx, db, maker, *subCategoryID, *difficulty, *numQuestions)
	if err != nil {
		log.Fatalf("Failed to generate questions: %v", err)
	}

	output, err := json.MarshalIndent(added, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal questions: %v", err)
	}
	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, output, 0644); err != nil {
			log.Fatalf("Failed to write output file: %v", err)
		}
		log.Printf("Questions saved to: %s", *outputFile)
	} else {
		fmt.Println(string(output))
	}
}

// fillBank generates count questions steered by the subcategory's concepts and stores the
// new ones in the bank
func fillBank(ctx context.Context, db *quizapp.DB, gen quizapp.QuestionGenerator, subCategoryID int64, difficulty string, count int) ([]*quizapp.Question, error) {
	d, err := quizapp.ParseDifficulty(difficulty)
	if err != nil {
		return nil, err
	}
	sub, err := db.GetSubCategory(ctx, subCategoryID)
	if err != nil {
		return nil, err
	}
	if !sub.IsLeaf {
		return nil, fmt.Errorf("%w: %s", quizapp.ErrNotLeafSubCategory, sub.Name)
	}
	concepts, err := db.ListConcepts(ctx, sub.ID, d)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(concepts))
	for _, c := range concepts {
		names = append(names, c.Name)
	}
	rand.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	if len(names) > count {
		names = names[:count]
	}

	records, err := gen.GenerateQuestions(ctx, quizapp.GenerationRequest{
		Topic:      sub.Name,
		Category:   sub.CategoryName,
		Difficulty: d,
		Count:      count,
		Concepts:   names,
	})
	if err != nil {
		return nil, err
	}

	var added []*quizapp.Question
	duplicates := 0
	for _, rec := range records {
		res, err := db.InsertIfNew(ctx, &quizapp.Question{
			CategoryID:    sub.CategoryID,
			SubCategoryID: sub.ID,
			Difficulty:    d,
			QuestionText:  rec.Question,
			OptionA:       rec.OptionA,
			OptionB:       rec.OptionB,
			OptionC:       rec.OptionC,
			OptionD:       rec.OptionD,
			CorrectAnswer: rec.CorrectAnswer,
			Explanation:   rec.Explanation,
			Concept:       rec.Concept,
			Source:        quizapp.SourceAI,
		})
		if err != nil {
			return added, err
		}
		if res.Duplicate {
			duplicates++
			continue
		}
		added = append(added, res.Question)
	}

	total, err := db.CountQuestions(ctx, sub.ID, d)
	if err != nil {
		return added, err
	}
	log.Printf("%s (%s): %d added, %d duplicates, %d in bank", sub.Name, d, len(added), duplicates, total)
	return added, nil
}

func playQuiz(engine *quizapp.Engine, userID string, subCategoryID int64, difficulty string) {
	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)

	attempt, err := engine.Start(ctx, userID, subCategoryID, difficulty)
	var active *quizapp.ActiveAttemptError
	if errors.As(err, &active) {
		fmt.Printf("You already have a quiz in progress (%s). [r]esume or [q]uit it? ", active.AttemptID)
		scanner.Scan()
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(scanner.Text())), "q") {
			if _, err := engine.Quit(ctx, userID, active.AttemptID); err != nil {
				log.Fatalf("Failed to quit attempt: %v", err)
			}
			fmt.Println("Previous quiz abandoned.")
			attempt, err = engine.Start(ctx, userID, subCategoryID, difficulty)
		} else {
			attempt, err = engine.Resume(ctx, userID, active.AttemptID)
		}
	}
	if err != nil {
		log.Fatalf("Failed to start quiz: %v", err)
	}

	if attempt.Status == quizapp.StatusGenerating {
		fmt.Printf("🎯 Starting quiz on: %s (%s)\n", attempt.SubCategoryName, attempt.Difficulty)
		fmt.Println("⏳ Preparing questions... (this may take a moment)")
		attempt, err = engine.Generate(ctx, userID, attempt.ID)
		var se *quizapp.SourcingError
		if errors.As(err, &se) {
			fmt.Println(se.Message())
			os.Exit(1)
		}
		if err != nil {
			log.Fatalf("Failed to generate questions: %v", err)
		}
		fmt.Printf("📝 %d questions (%d from the bank, %d new)\n\n", attempt.TotalQuestions, attempt.Meta.FromBank, attempt.Meta.Generated)
	}

	for {
		view, err := engine.CurrentView(ctx, userID, attempt.ID)
		if err != nil {
			log.Fatalf("Failed to load question: %v", err)
		}
		if view.Status != quizapp.StatusInProgress {
			break
		}
		if view.TimeUp {
			fmt.Println("⏰ Time is up!")
			if _, err := engine.AutoSubmit(ctx, userID, attempt.ID); err != nil {
				log.Fatalf("Failed to submit quiz: %v", err)
			}
			break
		}
		if view.Question == nil {
			break
		}

		q := view.Question
		fmt.Printf("Question %d/%d  (%s left)\n", view.Number, view.Total, time.Duration(view.RemainingSeconds)*time.Second)
		fmt.Printf("%s\n\n", q.Question)
		for _, tag := range []string{quizapp.AnswerA, quizapp.AnswerB, quizapp.AnswerC, quizapp.AnswerD} {
			fmt.Printf("%s) %s\n", tag, q.Options[tag])
		}
		if q.UserAnswer != nil {
			fmt.Printf("(previous answer: %s)\n", *q.UserAnswer)
		}
		fmt.Print("\nYour answer (A/B/C/D, b = back, p = pause, q = quit): ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(input) {
		case "b":
			if _, err := engine.GoBack(ctx, userID, attempt.ID); err != nil {
				fmt.Println(err)
			}
		case "p":
			if _, err := engine.Pause(ctx, userID, attempt.ID); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Print("⏸  Paused. Press enter to continue...")
			scanner.Scan()
			if _, err := engine.Resume(ctx, userID, attempt.ID); err != nil {
				fmt.Println(err)
			}
		case "q":
			if _, err := engine.Quit(ctx, userID, attempt.ID); err != nil {
				log.Fatalf("Failed to quit: %v", err)
			}
			fmt.Println("Quiz abandoned.")
			return
		default:
			if _, err := engine.SubmitAnswer(ctx, userID, attempt.ID, input); err != nil {
				if errors.Is(err, quizapp.ErrInvalidAnswer) {
					fmt.Println("Please enter A, B, C, or D")
					continue
				}
				log.Fatalf("Failed to submit answer: %v", err)
			}
		}
		fmt.Println()
		fmt.Println(strings.Repeat("─", 50))
		fmt.Println()
	}

	result, err := engine.Results(ctx, userID, attempt.ID)
	if err != nil {
		log.Fatalf("Failed to load results: %v", err)
	}
	printResults(result)
}

func printResults(r quizapp.AttemptResult) {
	fmt.Println("🎉 Quiz completed!")
	fmt.Println()
	for _, q := range r.Questions {
		mark := "❌"
		if q.IsCorrect != nil && *q.IsCorrect {
			mark = "✅"
		}
		answer := "-"
		if q.UserAnswer != nil {
			answer = *q.UserAnswer
		}
		fmt.Printf("%s %d. %s\n   your answer: %s, correct: %s) %s\n", mark, q.ID, q.Question, answer, q.CorrectAnswer, q.Option(q.CorrectAnswer))
		if q.Explanation != "" {
			fmt.Printf("   💡 %s\n", q.Explanation)
		}
	}
	fmt.Printf("\n🏆 Score: %d/%d (%.1f%%), grade %s, time %s\n",
		r.Correct, r.Total, r.Percentage, r.Grade, time.Duration(r.TimeTakenSeconds)*time.Second)
	if r.Unanswered > 0 {
		fmt.Printf("%d question(s) left unanswered\n", r.Unanswered)
	}
}
