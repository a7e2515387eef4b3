package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"quizapp"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const sessionName = "quiz-session"

type Server struct {
	db          *quizapp.DB
	engine      *quizapp.Engine
	performance *quizapp.PerformanceService
	store       *sessions.CookieStore
	log         *zap.SugaredLogger
}

type ctxKey struct{}

func main() {
	_ = godotenv.Load()
	cfg := quizapp.LoadConfig()

	log, err := quizapp.NewLogger(cfg.LogMode, cfg.Verbose)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	quizapp.SetLogger(log)

	if cfg.OpenAIKey == "" {
		log.Fatal("OPENAI_API_KEY environment variable is required")
	}

	db, err := quizapp.OpenDB(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalw("failed to open database", "error", err)
	}
	defer db.CloseDB()

	if err := db.CreateTables(); err != nil {
		log.Fatalw("failed to create tables", "error", err)
	}

	source := quizapp.NewQuestionSource(db, quizapp.NewQuestionMakerFromConfig(cfg), cfg.SourceConfig())
	engine := quizapp.NewEngine(db, source, cfg.EngineConfig())

	var cache quizapp.FeedbackCache = quizapp.NewMemoryFeedbackCache()
	if cfg.RedisAddr != "" {
		rc, err := quizapp.NewRedisFeedbackCache(context.Background(), cfg.RedisAddr, 24*time.Hour)
		if err != nil {
			log.Warnw("redis unavailable, caching feedback in memory", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer rc.Close()
			cache = rc
		}
	}
	performance := quizapp.NewPerformanceService(db, quizapp.NewFeedbackMakerFromConfig(cfg), cache)

	if cfg.StaleGenerating > 0 {
		janitor := quizapp.NewJanitor(db, cfg.StaleGenerating)
		if err := janitor.Start(time.Minute); err != nil {
			log.Fatalw("failed to start janitor", "error", err)
		}
		defer janitor.Stop()
	}

	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	server := &Server{
		db:          db,
		engine:      engine,
		performance: performance,
		store:       store,
		log:         log,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("shutdown failed", "error", err)
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Post("/session", s.handleSession)

	r.Route("/catalog", func(cr chi.Router) {
		cr.Get("/categories", s.handleCategories)
		cr.Get("/categories/{categoryID}/subcategories", s.handleSubCategories)
		cr.Get("/subcategories/{subcategoryID}/children", s.handleChildren)
		cr.Get("/subcategories/{subcategoryID}/concepts/{difficulty}", s.handleConcepts)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(s.requireUser)

		pr.Post("/quiz/start/{subcategoryID}/{difficulty}", s.handleStart)

		pr.Route("/quiz/attempt/{attemptID}", func(ar chi.Router) {
			// generation blocks on the model; each call has its own timeout in the source
			ar.Post("/generate", s.handleGenerate)
			ar.Group(func(tr chi.Router) {
				tr.Use(middleware.Timeout(30 * time.Second))
				tr.Get("/question", s.handleQuestion)
				tr.Post("/submit", s.handleSubmit)
				tr.Post("/previous", s.handlePrevious)
				tr.Post("/auto-submit", s.handleAutoSubmit)
				tr.Post("/save-timer", s.handleSaveTimer)
				tr.Get("/results", s.handleResults)
			})
		})

		pr.Route("/quiz/resume/{attemptID}", func(rr chi.Router) {
			rr.Post("/pause", s.handlePause)
			rr.Post("/continue", s.handleContinue)
			rr.Post("/quit", s.handleQuit)
		})

		pr.Get("/quiz/active", s.handleActive)
		pr.Get("/quiz/dashboard", s.handleDashboard)
		pr.Get("/quiz/performance", s.handlePerformance)
		pr.Get("/quiz/recent", s.handleRecent)
		pr.Get("/quiz/leaderboard", s.handleLeaderboard)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// requireUser reads the user id from the cookie session
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, _ := s.store.Get(r, sessionName)
		userID, _ := session.Values["user_id"].(string)
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "no session, POST /session first")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// handleSession stores the caller's user id in the cookie session
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	session, _ := s.store.Get(r, sessionName)
	session.Values["user_id"] = req.UserID
	if err := session.Save(r, w); err != nil {
		s.log.Errorw("session save failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"user_id": req.UserID})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.db.ListCategories(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

func (s *Server) handleSubCategories(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "categoryID")
	if !ok {
		return
	}
	subs, err := s.db.ListSubCategories(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, subs)
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "subcategoryID")
	if !ok {
		return
	}
	parent, err := s.db.GetSubCategory(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	children, err := s.db.ChildSubCategories(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"parent": parent, "children": children})
}

func (s *Server) handleConcepts(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "subcategoryID")
	if !ok {
		return
	}
	d, err := quizapp.ParseDifficulty(chi.URLParam(r, "difficulty"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	concepts, err := s.db.ListConcepts(r.Context(), id, d)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, concepts)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "subcategoryID")
	if !ok {
		return
	}
	attempt, err := s.engine.Start(r.Context(), userID(r), id, chi.URLParam(r, "difficulty"))
	if err != nil {
		if errors.Is(err, quizapp.ErrNotLeafSubCategory) {
			children, cerr := s.db.ChildSubCategories(r.Context(), id)
			if cerr != nil {
				s.fail(w, r, cerr)
				return
			}
			respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":    err.Error(),
				"children": children,
			})
			return
		}
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"attempt":      attempt,
		"generate_url": "/quiz/attempt/" + attempt.ID + "/generate",
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.engine.Generate(r.Context(), userID(r), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"attempt_id":   attempt.ID,
		"total":        attempt.TotalQuestions,
		"meta":         attempt.Meta,
		"redirect_url": "/quiz/attempt/" + attempt.ID + "/question",
	})
}

// handleQuestion shows the current question. An attempt whose time is up is submitted here.
func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	uid, id := userID(r), chi.URLParam(r, "attemptID")
	view, err := s.engine.CurrentView(r.Context(), uid, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if view.TimeUp {
		if _, err := s.engine.AutoSubmit(r.Context(), uid, id); err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"completed":    true,
			"time_up":      true,
			"redirect_url": "/quiz/attempt/" + id + "/results",
		})
		return
	}
	if view.Status == quizapp.StatusCompleted || (view.Status == quizapp.StatusInProgress && view.Question == nil) {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"completed":    view.Status == quizapp.StatusCompleted,
			"redirect_url": "/quiz/attempt/" + id + "/results",
		})
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	attempt, err := s.engine.SubmitAnswer(r.Context(), userID(r), chi.URLParam(r, "attemptID"), req.Answer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	next := "/quiz/attempt/" + attempt.ID + "/question"
	if attempt.Status == quizapp.StatusCompleted {
		next = "/quiz/attempt/" + attempt.ID + "/results"
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"completed":    attempt.Status == quizapp.StatusCompleted,
		"redirect_url": next,
	})
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.engine.GoBack(r.Context(), userID(r), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":                true,
		"current_question_index": attempt.CurrentQuestionIndex,
	})
}

func (s *Server) handleAutoSubmit(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.engine.AutoSubmit(r.Context(), userID(r), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"redirect_url": "/quiz/attempt/" + attempt.ID + "/results",
	})
}

func (s *Server) handleSaveTimer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RemainingSeconds *int `json:"remaining_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RemainingSeconds == nil {
		respondError(w, http.StatusBadRequest, "remaining_seconds is required")
		return
	}
	attempt, err := s.engine.SaveTimer(r.Context(), userID(r), chi.URLParam(r, "attemptID"), *req.RemainingSeconds)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":            true,
		"remaining_seconds":  attempt.RemainingSeconds,
		"time_spent_seconds": attempt.TimeSpentSeconds,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Results(r.Context(), userID(r), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.engine.ActiveAttempt(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if attempt == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"active":     true,
		"attempt":    quizapp.Summarize(attempt),
		"resume_url": "/quiz/resume/" + attempt.ID + "/continue",
		"quit_url":   "/quiz/resume/" + attempt.ID + "/quit",
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.engine.Pause(r.Context(), userID(r), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"remaining_seconds": attempt.ServerRemaining(time.Now().UTC()),
	})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.engine.Resume(r.Context(), userID(r), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"redirect_url": "/quiz/attempt/" + attempt.ID + "/question",
	})
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.engine.Quit(r.Context(), userID(r), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  attempt.Status,
	})
}

// fail maps an error from the quiz engine to a status code
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var active *quizapp.ActiveAttemptError
	var sourcing *quizapp.SourcingError
	switch {
	case errors.As(err, &active):
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":             err.Error(),
			"active_attempt_id": active.AttemptID,
			"resume_url":        "/quiz/resume/" + active.AttemptID + "/continue",
			"quit_url":          "/quiz/resume/" + active.AttemptID + "/quit",
		})
	case errors.As(err, &sourcing):
		respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success":   false,
			"error":     sourcing.Message(),
			"shortfall": sourcing.Shortfall(),
		})
	case errors.Is(err, quizapp.ErrInvalidAnswer),
		errors.Is(err, quizapp.ErrInvalidDifficulty),
		errors.Is(err, quizapp.ErrNoCurrentQuestion):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, quizapp.ErrNotLeafSubCategory):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, quizapp.ErrAttemptNotFound),
		errors.Is(err, quizapp.ErrSubCategoryNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, quizapp.ErrAttemptClosed),
		errors.Is(err, quizapp.ErrNotInProgress),
		errors.Is(err, quizapp.ErrAttemptNotFinished):
		respondError(w, http.StatusConflict, err.Error())
	default:
		s.log.Errorw("request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
