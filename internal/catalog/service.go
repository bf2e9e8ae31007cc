package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"

	"quizlms/internal/testbank"

	"golang.org/x/sync/errgroup"
)

var ErrTestNotFound = errors.New("test not found")

type testSource interface {
	GetTest(ctx context.Context, testID int64) (*testbank.Test, error)
	ListQuestions(ctx context.Context, testID int64) ([]testbank.Question, error)
}

type Service struct {
	db      *sql.DB
	tests   testSource
	shuffle func(n int, swap func(i, j int))
}

type Catalog struct {
	Folders []FolderNode `json:"folders"`
	// Tests holds free published tests that are not filed in any folder.
	Tests []TestEntry `json:"tests"`
}

type PublicOption struct {
	ID   int64                  `json:"option_id"`
	Text testbank.LocalizedText `json:"text"`
}

type PublicQuestion struct {
	ID       int64                  `json:"question_id"`
	Question testbank.LocalizedText `json:"question"`
	Options  []PublicOption         `json:"options"`
}

type PublicTest struct {
	ID                     int64  `json:"id"`
	Title                  string `json:"title"`
	Description            string `json:"description"`
	Category               string `json:"category"`
	PassingScore           int    `json:"passing_score"`
	DurationMinutes        int    `json:"duration_minutes"`
	Instructions           string `json:"instructions"`
	ShuffleQuestions       bool   `json:"shuffle_questions"`
	ShowResultsImmediately bool   `json:"show_results_immediately"`
	AllowAnswerReview      bool   `json:"allow_answer_review"`
	EnableTimeLimit        bool   `json:"enable_time_limit"`
	TotalQuestions         int    `json:"total_questions"`
}

type TestDetails struct {
	Test      PublicTest       `json:"test"`
	Questions []PublicQuestion `json:"questions"`
}

func NewService(db *sql.DB, tests testSource) *Service {
	return &Service{db: db, tests: tests, shuffle: rand.Shuffle}
}

// GetFreeTests returns every free published test arranged under the folders
// that contain it.
func (s *Service) GetFreeTests(ctx context.Context) (*Catalog, error) {
	var (
		folders []FolderRow
		tests   []TestEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		folders, err = s.loadFolders(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		tests, err = s.loadFreeTests(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	unfiled := make([]TestEntry, 0)
	for _, t := range tests {
		if t.FolderID == nil {
			unfiled = append(unfiled, t)
		}
	}
	sortTests(unfiled)
	return &Catalog{Folders: BuildCatalog(folders, tests), Tests: unfiled}, nil
}

// GetTestDetails returns a free published test for taking, with correct
// flags stripped. Questions are shuffled when the test asks for it.
func (s *Service) GetTestDetails(ctx context.Context, testID int64) (*TestDetails, error) {
	t, err := s.publicTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	questions, err := s.publicQuestions(ctx, testID)
	if err != nil {
		return nil, err
	}
	if t.ShuffleQuestions {
		s.shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}

	return &TestDetails{
		Test: PublicTest{
			ID:                     t.ID,
			Title:                  t.Title,
			Description:            t.Description,
			Category:               t.Category,
			PassingScore:           t.PassingScore,
			DurationMinutes:        t.DurationMinutes,
			Instructions:           t.Instructions,
			ShuffleQuestions:       t.ShuffleQuestions,
			ShowResultsImmediately: t.ShowResultsImmediately,
			AllowAnswerReview:      t.AllowAnswerReview,
			EnableTimeLimit:        t.EnableTimeLimit,
			TotalQuestions:         len(questions),
		},
		Questions: questions,
	}, nil
}

// GetTestQuestions returns the questions of a free published test in id order.
func (s *Service) GetTestQuestions(ctx context.Context, testID int64) ([]PublicQuestion, error) {
	if _, err := s.publicTest(ctx, testID); err != nil {
		return nil, err
	}
	return s.publicQuestions(ctx, testID)
}

func (s *Service) publicTest(ctx context.Context, testID int64) (*testbank.Test, error) {
	t, err := s.tests.GetTest(ctx, testID)
	if err != nil {
		if errors.Is(err, testbank.ErrTestNotFound) {
			return nil, ErrTestNotFound
		}
		return nil, err
	}
	if !t.IsFree || t.Status != testbank.StatusPublished {
		return nil, ErrTestNotFound
	}
	return t, nil
}

func (s *Service) publicQuestions(ctx context.Context, testID int64) ([]PublicQuestion, error) {
	items, err := s.tests.ListQuestions(ctx, testID)
	if err != nil {
		if errors.Is(err, testbank.ErrTestNotFound) {
			return nil, ErrTestNotFound
		}
		return nil, err
	}
	return stripAnswers(items), nil
}

func stripAnswers(items []testbank.Question) []PublicQuestion {
	out := make([]PublicQuestion, 0, len(items))
	for _, q := range items {
		pq := PublicQuestion{
			ID:       q.ID,
			Question: q.Question,
			Options:  make([]PublicOption, 0, len(q.Options)),
		}
		for _, o := range q.Options {
			pq.Options = append(pq.Options, PublicOption{ID: o.ID, Text: o.Text})
		}
		out = append(out, pq)
	}
	return out
}

func (s *Service) loadFolders(ctx context.Context) ([]FolderRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, parent_id
		FROM test_folders
	`)
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}
	defer rows.Close()

	out := make([]FolderRow, 0)
	for rows.Next() {
		var (
			f        FolderRow
			parentID sql.NullInt64
		)
		if err := rows.Scan(&f.ID, &f.Name, &parentID); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		if parentID.Valid {
			id := parentID.Int64
			f.ParentID = &id
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return out, nil
}

func (s *Service) loadFreeTests(ctx context.Context) ([]TestEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			t.id,
			t.title,
			t.description,
			t.category,
			t.passing_score,
			t.duration_minutes,
			t.folder_id,
			(SELECT COUNT(*) FROM test_questions q WHERE q.test_id = t.id) AS question_count
		FROM tests t
		WHERE t.is_free = TRUE AND t.status = 'published'
	`)
	if err != nil {
		return nil, fmt.Errorf("query free tests: %w", err)
	}
	defer rows.Close()

	out := make([]TestEntry, 0)
	for rows.Next() {
		var (
			t        TestEntry
			folderID sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Category, &t.PassingScore, &t.DurationMinutes, &folderID, &t.QuestionCount); err != nil {
			return nil, fmt.Errorf("scan free test: %w", err)
		}
		if folderID.Valid {
			id := folderID.Int64
			t.FolderID = &id
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate free tests: %w", err)
	}
	return out, nil
}
