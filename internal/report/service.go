package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
)

var ErrTestNotFound = errors.New("test not found")

type Service struct {
	db *sql.DB
}

type TestSummary struct {
	TestID       int64   `json:"test_id"`
	TestTitle    string  `json:"test_title"`
	Attempts     int     `json:"attempts"`
	Participants int     `json:"participants"`
	AverageScore float64 `json:"average_score"`
	HighestScore int     `json:"highest_score"`
	LowestScore  int     `json:"lowest_score"`
	PassRate     float64 `json:"pass_rate"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// SummaryByTest aggregates every recorded attempt of a test. A test without
// attempts yields zeros.
func (s *Service) SummaryByTest(ctx context.Context, testID int64) (*TestSummary, error) {
	out := TestSummary{TestID: testID}
	var (
		avg    sql.NullFloat64
		high   sql.NullInt64
		low    sql.NullInt64
		passed int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			t.title,
			COUNT(a.id),
			COUNT(DISTINCT a.user_id),
			AVG(a.score)::float8,
			MAX(a.score),
			MIN(a.score),
			COUNT(a.id) FILTER (WHERE a.passed)
		FROM tests t
		LEFT JOIN test_attempts a ON a.test_id = t.id
		WHERE t.id = $1
		GROUP BY t.id, t.title
	`, testID).Scan(&out.TestTitle, &out.Attempts, &out.Participants, &avg, &high, &low, &passed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("summary by test: %w", err)
	}

	out.AverageScore = round2(avg.Float64)
	out.HighestScore = int(high.Int64)
	out.LowestScore = int(low.Int64)
	out.PassRate = passRate(passed, out.Attempts)
	return &out, nil
}

func passRate(passed, attempts int) float64 {
	if attempts == 0 {
		return 0
	}
	return round2(float64(passed) * 100 / float64(attempts))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
