package quizapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB is the persistent store for the catalog, concepts, the question bank and attempts
type DB struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// OpenDB opens a new database connection. driver is "sqlite3" or "postgres".
func OpenDB(driver, dsn string) (*DB, error) {
	if driver == "" {
		driver = "sqlite3"
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite3" {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		// SQLite doesn't support multiple writers, and :memory: databases are per connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	return &DB{db: db, driver: driver, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CloseDB closes the database connection
func (db *DB) CloseDB() error {
	return db.db.Close()
}

// SetClock overrides the time source used for created_at/updated_at stamps
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

func (db *DB) serial() string {
	if db.driver == "postgres" {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// CreateTables creates the necessary tables if they don't exist
func (db *DB) CreateTables() error {
	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS categories (
			id %s,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`, db.serial()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS subcategories (
			id %s,
			category_id BIGINT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			level SMALLINT NOT NULL DEFAULT 1,
			parent_id BIGINT REFERENCES subcategories(id) ON DELETE SET NULL,
			is_leaf BOOLEAN NOT NULL DEFAULT TRUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			UNIQUE (category_id, name)
		)`, db.serial()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS concepts (
			id %s,
			subcategory_id BIGINT NOT NULL REFERENCES subcategories(id) ON DELETE CASCADE,
			difficulty TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (subcategory_id, difficulty, name)
		)`, db.serial()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS questions (
			id %s,
			category_id BIGINT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
			subcategory_id BIGINT NOT NULL REFERENCES subcategories(id) ON DELETE CASCADE,
			difficulty TEXT NOT NULL,
			question_text TEXT NOT NULL,
			option_a TEXT NOT NULL,
			option_b TEXT NOT NULL,
			option_c TEXT NOT NULL,
			option_d TEXT NOT NULL,
			correct_answer TEXT NOT NULL,
			explanation TEXT NOT NULL DEFAULT '',
			concept TEXT NOT NULL DEFAULT '',
			normalized_hash TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'ai',
			usage_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`, db.serial()),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_questions_normalized_hash ON questions(normalized_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_lookup ON questions(subcategory_id, difficulty)`,
		`CREATE TABLE IF NOT EXISTS quiz_attempts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			category_id BIGINT REFERENCES categories(id) ON DELETE SET NULL,
			subcategory_id BIGINT REFERENCES subcategories(id) ON DELETE SET NULL,
			difficulty TEXT NOT NULL DEFAULT 'medium',
			status SMALLINT NOT NULL DEFAULT 0,
			questions TEXT,
			ai_meta TEXT,
			total_questions SMALLINT NOT NULL DEFAULT 10,
			current_question_index SMALLINT NOT NULL DEFAULT 0,
			time_limit_seconds INTEGER NOT NULL DEFAULT 600,
			time_spent_seconds INTEGER NOT NULL DEFAULT 0,
			remaining_seconds INTEGER,
			time_taken_seconds INTEGER NOT NULL DEFAULT 0,
			correct_answers SMALLINT NOT NULL DEFAULT 0,
			attempted_questions SMALLINT NOT NULL DEFAULT 0,
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			started_at TIMESTAMP,
			paused_at TIMESTAMP,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_user_started ON quiz_attempts(user_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_category ON quiz_attempts(category_id, subcategory_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_status ON quiz_attempts(status)`,
		// at most one attempt per user may be in progress
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_one_active ON quiz_attempts(user_id) WHERE status = %d`, int(StatusInProgress)),
	}

	for _, query := range queries {
		if _, err := db.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute %s: %w", firstLine(query), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// CreateCategory inserts a category, or returns the existing one with the same name
func (db *DB) CreateCategory(ctx context.Context, name, description string) (*Category, error) {
	if existing, err := db.GetCategoryByName(ctx, name); err == nil {
		return existing, nil
	}
	c := &Category{Name: name, Description: description, CreatedAt: db.now()}
	err := db.db.QueryRowxContext(ctx,
		db.db.Rebind("INSERT INTO categories (name, description, created_at) VALUES (?, ?, ?) RETURNING id"),
		c.Name, c.Description, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return c, nil
}

// GetCategoryByName retrieves a category by its unique name
func (db *DB) GetCategoryByName(ctx context.Context, name string) (*Category, error) {
	var c Category
	err := db.db.GetContext(ctx, &c, db.db.Rebind("SELECT id, name, description, created_at FROM categories WHERE name = ?"), name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("category not found: %s", name)
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// ListCategories returns every category ordered by name
func (db *DB) ListCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	if err := db.db.SelectContext(ctx, &out, "SELECT id, name, description, created_at FROM categories ORDER BY name"); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return out, nil
}

// CreateSubCategory inserts a subcategory under category, optionally below parent.
// The parent stops being a leaf. An existing subcategory with the same name is returned as is.
func (db *DB) CreateSubCategory(ctx context.Context, categoryID int64, name string, parentID *int64) (*SubCategory, error) {
	var existing SubCategory
	err := db.db.GetContext(ctx, &existing,
		db.db.Rebind(subCategorySelect+" WHERE s.category_id = ? AND s.name = ?"), categoryID, name)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up subcategory: %w", err)
	}

	level := 1
	if parentID != nil {
		parent, err := db.GetSubCategory(ctx, *parentID)
		if err != nil {
			return nil, err
		}
		level = parent.Level + 1
	}

	tx, err := db.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sc := &SubCategory{CategoryID: categoryID, Name: name, Level: level, ParentID: parentID, IsLeaf: true, CreatedAt: db.now()}
	err = tx.QueryRowxContext(ctx,
		tx.Rebind("INSERT INTO subcategories (category_id, name, level, parent_id, is_leaf, description, created_at) VALUES (?, ?, ?, ?, ?, '', ?) RETURNING id"),
		sc.CategoryID, sc.Name, sc.Level, sc.ParentID, sc.IsLeaf, sc.CreatedAt,
	).Scan(&sc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create subcategory: %w", err)
	}
	if parentID != nil {
		if _, err := tx.ExecContext(ctx, tx.Rebind("UPDATE subcategories SET is_leaf = ? WHERE id = ?"), false, *parentID); err != nil {
			return nil, fmt.Errorf("failed to update parent subcategory: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit subcategory: %w", err)
	}
	return sc, nil
}

const subCategorySelect = `SELECT s.id, s.category_id, s.name, s.level, s.parent_id, s.is_leaf, s.description, s.created_at,
	c.name AS category_name
	FROM subcategories s JOIN categories c ON c.id = s.category_id`

// GetSubCategory retrieves a subcategory with its category name
func (db *DB) GetSubCategory(ctx context.Context, id int64) (*SubCategory, error) {
	var sc SubCategory
	err := db.db.GetContext(ctx, &sc, db.db.Rebind(subCategorySelect+" WHERE s.id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrSubCategoryNotFound, id)
		}
		return nil, fmt.Errorf("failed to get subcategory: %w", err)
	}
	return &sc, nil
}

// ListSubCategories lists the top-level subcategories of a category
func (db *DB) ListSubCategories(ctx context.Context, categoryID int64) ([]SubCategory, error) {
	var out []SubCategory
	err := db.db.SelectContext(ctx, &out, db.db.Rebind(subCategorySelect+" WHERE s.category_id = ? AND s.parent_id IS NULL ORDER BY s.name"), categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subcategories: %w", err)
	}
	return out, nil
}

// ChildSubCategories lists the direct children of a subcategory
func (db *DB) ChildSubCategories(ctx context.Context, parentID int64) ([]SubCategory, error) {
	var out []SubCategory
	err := db.db.SelectContext(ctx, &out, db.db.Rebind(subCategorySelect+" WHERE s.parent_id = ? ORDER BY s.name"), parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child subcategories: %w", err)
	}
	return out, nil
}

// AddConcept inserts a concept; an existing (subcategory, difficulty, name) is left alone.
// It reports whether a row was inserted.
func (db *DB) AddConcept(ctx context.Context, subCategoryID int64, difficulty Difficulty, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("concept name is empty")
	}
	res, err := db.db.ExecContext(ctx,
		db.db.Rebind(`INSERT INTO concepts (subcategory_id, difficulty, name, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (subcategory_id, difficulty, name) DO NOTHING`),
		subCategoryID, difficulty, name, db.now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to add concept: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to add concept: %w", err)
	}
	return n > 0, nil
}

// ListConcepts returns the concept pool for a subcategory and difficulty
func (db *DB) ListConcepts(ctx context.Context, subCategoryID int64, difficulty Difficulty) ([]Concept, error) {
	var out []Concept
	err := db.db.SelectContext(ctx, &out,
		db.db.Rebind("SELECT id, subcategory_id, difficulty, name, created_at FROM concepts WHERE subcategory_id = ? AND difficulty = ? ORDER BY name"),
		subCategoryID, difficulty,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}
	return out, nil
}
