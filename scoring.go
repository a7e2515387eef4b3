package quizapp

import (
	"math"
	"sort"
	"time"
)

// Score is the percentage of correct answers, unrounded. It is zero when total is zero.
func Score(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(correct) / float64(total) * 100
}

// Grade bands a percentage score
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A+"
	case score >= 80:
		return "A"
	case score >= 70:
		return "B"
	case score >= 60:
		return "C"
	default:
		return "F"
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// AttemptResult is the scored review of a finished attempt
type AttemptResult struct {
	AttemptID        string            `json:"attempt_id"`
	Status           AttemptStatus     `json:"status"`
	Category         string            `json:"category"`
	SubCategory      string            `json:"subcategory"`
	Difficulty       Difficulty        `json:"difficulty"`
	Total            int               `json:"total"`
	Correct          int               `json:"correct"`
	Incorrect        int               `json:"incorrect"`
	Unanswered       int               `json:"unanswered"`
	Percentage       float64           `json:"percentage"`
	Grade            string            `json:"grade"`
	TimeTakenSeconds int               `json:"time_taken_seconds"`
	Questions        []AttemptQuestion `json:"questions"`
}

// BuildResult summarises an attempt for the results page
func BuildResult(a *QuizAttempt) AttemptResult {
	r := AttemptResult{
		AttemptID:        a.ID,
		Status:           a.Status,
		Category:         a.CategoryName,
		SubCategory:      a.SubCategoryName,
		Difficulty:       a.Difficulty,
		Total:            len(a.Questions),
		Percentage:       round2(a.Score),
		Grade:            Grade(a.Score),
		TimeTakenSeconds: a.TimeTakenSeconds,
		Questions:        a.Questions,
	}
	for _, q := range a.Questions {
		switch {
		case !q.Answered():
			r.Unanswered++
		case q.IsCorrect != nil && *q.IsCorrect:
			r.Correct++
		}
	}
	r.Incorrect = r.Total - r.Correct
	return r
}

// GroupStats aggregates completed attempts sharing a difficulty or category
type GroupStats struct {
	Name     string  `json:"name"`
	Quizzes  int     `json:"quizzes"`
	AvgScore float64 `json:"avg_score"`
}

// AttemptSummary is one line of an attempt history
type AttemptSummary struct {
	ID          string        `json:"id"`
	Category    string        `json:"category"`
	SubCategory string        `json:"subcategory"`
	Difficulty  Difficulty    `json:"difficulty"`
	Status      AttemptStatus `json:"status"`
	Score       float64       `json:"score"`
	Grade       string        `json:"grade,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Summarize turns an attempt into a history line
func Summarize(a *QuizAttempt) AttemptSummary {
	s := AttemptSummary{
		ID:          a.ID,
		Category:    a.CategoryName,
		SubCategory: a.SubCategoryName,
		Difficulty:  a.Difficulty,
		Status:      a.Status,
		Score:       round2(a.Score),
		CreatedAt:   a.CreatedAt,
		CompletedAt: a.CompletedAt,
	}
	if a.Status == StatusCompleted {
		s.Grade = Grade(a.Score)
	}
	return s
}

// DashboardStats is the per-user overview
type DashboardStats struct {
	TotalAttempted  int              `json:"total_attempted"`
	TotalCompleted  int              `json:"total_completed"`
	CompletionRate  float64          `json:"completion_rate"`
	AvgScore        float64          `json:"avg_score"`
	BestScore       float64          `json:"best_score"`
	WorstScore      float64          `json:"worst_score"`
	ByDifficulty    []GroupStats     `json:"difficulty_stats"`
	ByCategory      []GroupStats     `json:"category_stats"`
	RecentCompleted []AttemptSummary `json:"recent_quizzes"`
	LastSevenDays   int              `json:"last_7_days"`
}

// ComputeDashboard aggregates a user's attempts
func ComputeDashboard(attempts []QuizAttempt, now time.Time) DashboardStats {
	stats := DashboardStats{TotalAttempted: len(attempts)}

	var completed []*QuizAttempt
	for i := range attempts {
		if attempts[i].Status == StatusCompleted {
			completed = append(completed, &attempts[i])
		}
	}
	stats.TotalCompleted = len(completed)
	if stats.TotalAttempted > 0 {
		stats.CompletionRate = round2(float64(stats.TotalCompleted) / float64(stats.TotalAttempted) * 100)
	}
	if len(completed) == 0 {
		return stats
	}

	sum := 0.0
	stats.BestScore = completed[0].Score
	stats.WorstScore = completed[0].Score
	weekAgo := now.Add(-7 * 24 * time.Hour)
	for _, a := range completed {
		sum += a.Score
		stats.BestScore = math.Max(stats.BestScore, a.Score)
		stats.WorstScore = math.Min(stats.WorstScore, a.Score)
		if a.CompletedAt != nil && !a.CompletedAt.Before(weekAgo) {
			stats.LastSevenDays++
		}
	}
	stats.AvgScore = round2(sum / float64(len(completed)))

	stats.ByDifficulty = groupScores(completed, func(a *QuizAttempt) string { return string(a.Difficulty) })
	sort.Slice(stats.ByDifficulty, func(i, j int) bool { return stats.ByDifficulty[i].Name < stats.ByDifficulty[j].Name })
	stats.ByCategory = groupScores(completed, func(a *QuizAttempt) string { return a.CategoryName })
	sort.SliceStable(stats.ByCategory, func(i, j int) bool { return stats.ByCategory[i].AvgScore > stats.ByCategory[j].AvgScore })

	sort.SliceStable(completed, func(i, j int) bool { return completedAt(completed[i]).After(completedAt(completed[j])) })
	for i, a := range completed {
		if i == 10 {
			break
		}
		stats.RecentCompleted = append(stats.RecentCompleted, Summarize(a))
	}
	return stats
}

func completedAt(a *QuizAttempt) time.Time {
	if a.CompletedAt != nil {
		return *a.CompletedAt
	}
	return a.CreatedAt
}

// groupScores averages scores per key, keeping first-seen key order
func groupScores(attempts []*QuizAttempt, key func(*QuizAttempt) string) []GroupStats {
	idx := make(map[string]int)
	var groups []GroupStats
	sums := make([]float64, 0)
	for _, a := range attempts {
		k := key(a)
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, GroupStats{Name: k})
			sums = append(sums, 0)
		}
		groups[i].Quizzes++
		sums[i] += a.Score
	}
	for i := range groups {
		groups[i].AvgScore = round2(sums[i] / float64(groups[i].Quizzes))
	}
	return groups
}
