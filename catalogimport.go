package quizapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// CatalogStore is the storage the catalog importers write to
type CatalogStore interface {
	CreateCategory(ctx context.Context, name, description string) (*Category, error)
	CreateSubCategory(ctx context.Context, categoryID int64, name string, parentID *int64) (*SubCategory, error)
	AddConcept(ctx context.Context, subCategoryID int64, difficulty Difficulty, name string) (bool, error)
}

// ConceptRow places one concept in the catalog: category > group > topic, at a difficulty.
// Group is optional; without it the topic hangs directly off the category.
type ConceptRow struct {
	Category   string
	Group      string
	Topic      string
	Difficulty Difficulty
	Concept    string
	Line       int // sheet row number, 0 when the row did not come from a sheet
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int
	Created        int
	Skipped        int
	Errors         []string
}

// catalogImporter caches catalog ids while rows are written
type catalogImporter struct {
	store      CatalogStore
	categories map[string]int64
	subs       map[string]*SubCategory
}

func newCatalogImporter(store CatalogStore) *catalogImporter {
	return &catalogImporter{
		store:      store,
		categories: make(map[string]int64),
		subs:       make(map[string]*SubCategory),
	}
}

func (ci *catalogImporter) category(ctx context.Context, name string) (int64, error) {
	key := strings.ToLower(name)
	if id, ok := ci.categories[key]; ok {
		return id, nil
	}
	c, err := ci.store.CreateCategory(ctx, name, "")
	if err != nil {
		return 0, err
	}
	ci.categories[key] = c.ID
	return c.ID, nil
}

func (ci *catalogImporter) subCategory(ctx context.Context, categoryID int64, name string, parent *SubCategory) (*SubCategory, error) {
	key := fmt.Sprintf("%d/%s", categoryID, strings.ToLower(name))
	if sc, ok := ci.subs[key]; ok {
		return sc, nil
	}
	var parentID *int64
	if parent != nil {
		parentID = &parent.ID
	}
	sc, err := ci.store.CreateSubCategory(ctx, categoryID, name, parentID)
	if err != nil {
		return nil, err
	}
	ci.subs[key] = sc
	return sc, nil
}

// add writes one row, creating its category and subcategories as needed
func (ci *catalogImporter) add(ctx context.Context, row ConceptRow, result *ImportResult) error {
	if row.Category == "" || row.Topic == "" || row.Concept == "" {
		return fmt.Errorf("category, topic and concept are required")
	}
	categoryID, err := ci.category(ctx, row.Category)
	if err != nil {
		return err
	}
	var parent *SubCategory
	if row.Group != "" {
		if parent, err = ci.subCategory(ctx, categoryID, row.Group, nil); err != nil {
			return err
		}
	}
	topic, err := ci.subCategory(ctx, categoryID, row.Topic, parent)
	if err != nil {
		return err
	}
	inserted, err := ci.store.AddConcept(ctx, topic.ID, row.Difficulty, row.Concept)
	if err != nil {
		return err
	}
	if inserted {
		result.Created++
	} else {
		result.Skipped++
	}
	return nil
}

// ImportConceptRows writes rows into the catalog. Row failures are collected in the result.
func ImportConceptRows(ctx context.Context, store CatalogStore, rows []ConceptRow) *ImportResult {
	ci := newCatalogImporter(store)
	result := &ImportResult{Errors: make([]string, 0)}
	for i, row := range rows {
		result.TotalProcessed++
		if err := ci.add(ctx, row, result); err != nil {
			line := row.Line
			if line == 0 {
				line = i + 1
			}
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", line, err))
		}
	}
	return result
}

// SeedDefaultConcepts loads the built-in catalog
func SeedDefaultConcepts(ctx context.Context, store CatalogStore) *ImportResult {
	return ImportConceptRows(ctx, store, DefaultConceptRows())
}

// DefaultConceptRows expands the built-in concept table into rows
func DefaultConceptRows() []ConceptRow {
	var rows []ConceptRow
	for _, t := range defaultConcepts {
		for _, d := range Difficulties {
			for _, c := range t.concepts[d] {
				rows = append(rows, ConceptRow{
					Category:   t.category,
					Group:      t.group,
					Topic:      t.topic,
					Difficulty: d,
					Concept:    c,
				})
			}
		}
	}
	return rows
}

var defaultConcepts = []struct {
	category, group, topic string
	concepts               map[Difficulty][]string
}{
	{"Academic", "CSE", "Java", map[Difficulty][]string{
		DifficultyEasy:   {"Variables", "Data Types", "Operators", "Loops", "Conditionals", "Arrays", "Methods", "Classes", "Objects", "Strings", "Input/Output", "Basic Syntax"},
		DifficultyMedium: {"Inheritance", "Polymorphism", "Encapsulation", "Abstraction", "Interfaces", "Exception Handling", "Collections", "Generics", "File I/O", "Multithreading", "Lambda Expressions", "Streams"},
		DifficultyHard:   {"JVM Internals", "Memory Management", "Garbage Collection", "Design Patterns", "Concurrency", "Reflection", "Annotations", "ClassLoaders", "Serialization", "Network Programming", "JDBC Advanced", "Performance Tuning"},
	}},
	{"Academic", "CSE", "Python", map[Difficulty][]string{
		DifficultyEasy:   {"Variables", "Data Types", "Operators", "Strings", "Lists", "Tuples", "Dictionaries", "Sets", "Loops", "Conditionals", "Functions", "Basic Syntax"},
		DifficultyMedium: {"List Comprehensions", "Decorators", "Generators", "Lambda Functions", "Exception Handling", "File I/O", "Modules", "Packages", "OOP Basics", "Inheritance", "Regular Expressions", "JSON Handling"},
		DifficultyHard:   {"Metaclasses", "Context Managers", "Async/Await", "Coroutines", "Memory Management", "GIL", "Descriptors", "Magic Methods", "Design Patterns", "Concurrency", "Multiprocessing", "C Extensions"},
	}},
	{"Academic", "CSE", "Operating Systems", map[Difficulty][]string{
		DifficultyEasy:   {"Process", "Thread", "CPU Scheduling", "Memory", "Files", "Directories", "Commands", "Shell", "Kernel", "User Mode", "System Calls", "Booting"},
		DifficultyMedium: {"Process Scheduling Algorithms", "Deadlock", "Semaphores", "Mutex", "Virtual Memory", "Paging", "Segmentation", "File Systems", "Disk Scheduling", "Process Synchronization", "IPC", "Threads"},
		DifficultyHard:   {"Page Replacement Algorithms", "Memory Allocation Strategies", "Distributed Systems", "Real-time OS", "Security", "Kernel Architecture", "Device Drivers", "Virtualization", "Container Technologies", "OS Internals", "System Performance", "RAID"},
	}},
	{"Academic", "CSE", "Data Structures", map[Difficulty][]string{
		DifficultyEasy:   {"Arrays", "Linked Lists", "Stacks", "Queues", "Strings", "Linear Search", "Binary Search", "Sorting Basics", "Time Complexity", "Space Complexity", "Recursion Basics", "Pointers"},
		DifficultyMedium: {"Trees", "Binary Trees", "BST", "Heaps", "Hash Tables", "Graphs Basics", "BFS", "DFS", "Sorting Algorithms", "Merge Sort", "Quick Sort", "Dynamic Programming Basics"},
		DifficultyHard:   {"AVL Trees", "Red-Black Trees", "B-Trees", "Tries", "Segment Trees", "Fenwick Trees", "Graph Algorithms", "Dijkstra", "Bellman-Ford", "Floyd-Warshall", "Advanced DP", "NP-Complete Problems"},
	}},
}

// ImportConfig defines the spreadsheet layout
type ImportConfig struct {
	FilePath         string
	SheetName        string
	CategoryColumn   string
	GroupColumn      string // empty when the sheet has no group level
	TopicColumn      string
	DifficultyColumn string
	ConceptColumn    string
	StartRow         int // 1-based, rows before it are headers
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		SheetName:        "Sheet1",
		CategoryColumn:   "A",
		GroupColumn:      "B",
		TopicColumn:      "C",
		DifficultyColumn: "D",
		ConceptColumn:    "E",
		StartRow:         2,
	}
}

// ReadConceptRows reads concept rows from an xlsx file. Rows that cannot be parsed are
// reported in the returned error list and left out.
func ReadConceptRows(cfg ImportConfig) ([]ConceptRow, []string, error) {
	f, err := excelize.OpenFile(cfg.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := cfg.SheetName
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get rows: %w", err)
	}

	var (
		out     []ConceptRow
		rowErrs []string
	)
	for i, row := range rows {
		if i < cfg.StartRow-1 {
			continue
		}
		cell := func(col string) string {
			if col == "" {
				return ""
			}
			if idx := columnToIndex(col); idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}
		if strings.Join(row, "") == "" {
			continue
		}
		d, err := ParseDifficulty(cell(cfg.DifficultyColumn))
		if err != nil {
			rowErrs = append(rowErrs, fmt.Sprintf("Row %d: %v", i+1, err))
			continue
		}
		out = append(out, ConceptRow{
			Category:   cell(cfg.CategoryColumn),
			Group:      cell(cfg.GroupColumn),
			Topic:      cell(cfg.TopicColumn),
			Difficulty: d,
			Concept:    cell(cfg.ConceptColumn),
			Line:       i + 1,
		})
	}
	return out, rowErrs, nil
}

// ImportConceptsFromExcel reads an xlsx file and writes its rows into the catalog
func ImportConceptsFromExcel(ctx context.Context, store CatalogStore, cfg ImportConfig) (*ImportResult, error) {
	rows, rowErrs, err := ReadConceptRows(cfg)
	if err != nil {
		return nil, err
	}
	result := ImportConceptRows(ctx, store, rows)
	result.TotalProcessed += len(rowErrs)
	result.Errors = append(rowErrs, result.Errors...)
	return result, nil
}

// WriteConceptTemplate writes rows to a new xlsx file in the default layout
func WriteConceptTemplate(path string, rows []ConceptRow) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	header := []interface{}{"Category", "Group", "Topic", "Difficulty", "Concept"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, r := range rows {
		values := []interface{}{r.Category, r.Group, r.Topic, string(r.Difficulty), r.Concept}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// columnToIndex converts a column letter to a 0-based index
func columnToIndex(column string) int {
	column = strings.ToUpper(column)
	index := 0
	for i := 0; i < len(column); i++ {
		index = index*26 + int(column[i]-'A'+1)
	}
	return index - 1
}
