package testbank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"quizlms/internal/app/validate"
	"quizlms/internal/db"

	"golang.org/x/sync/errgroup"
)

var (
	ErrTestNotFound     = errors.New("test not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrFolderNotFound   = errors.New("folder not found")
	ErrInvalidInput     = errors.New("invalid input")
)

const (
	nextWizardStep = "test_sections"

	SortName     = "name"
	SortModified = "modified"
	SortDate     = "date"

	defaultPageLimit = 10
	maxPageLimit     = 100
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateTest stores the first wizard step. New tests always start as drafts.
func (s *Service) CreateTest(ctx context.Context, in CreateTestInput) (*CreateTestResult, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var folderID interface{}
	if in.FolderID != nil {
		folderID = *in.FolderID
	}

	out := &CreateTestResult{Status: StatusDraft, Step: nextWizardStep}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tests (
			folder_id, title, description, category,
			passing_score, duration_minutes, instructions, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		folderID,
		in.Title,
		strings.TrimSpace(in.Description),
		strings.TrimSpace(in.Category),
		in.PassingScore,
		totalMinutes(in.DurationHours, in.DurationMinutes),
		in.Instructions,
		StatusDraft,
	).Scan(&out.ID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, ErrFolderNotFound
		}
		return nil, fmt.Errorf("insert test: %w", err)
	}
	return out, nil
}

func (s *Service) GetTest(ctx context.Context, testID int64) (*Test, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+testColumns+`
		FROM tests
		WHERE id = $1
	`, testID)
	t, err := scanTest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test: %w", err)
	}
	return t, nil
}

// AddQuestion inserts a question and its options in one transaction.
func (s *Service) AddQuestion(ctx context.Context, testID int64, in QuestionInput) (*Question, error) {
	in = normalizeQuestionInput(in)
	if err := validateQuestionInput(in); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q, err := insertQuestion(ctx, tx, testID, in)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tests SET updated_at = now() WHERE id = $1`, testID); err != nil {
		return nil, fmt.Errorf("touch test: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return q, nil
}

// UpdateQuestion rewrites the question text and replaces all its options in
// one transaction.
func (s *Service) UpdateQuestion(ctx context.Context, testID, questionID int64, in QuestionInput) (*Question, error) {
	in = normalizeQuestionInput(in)
	if err := validateQuestionInput(in); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE test_questions
		SET question_english = $1, question_tamil = $2, updated_at = now()
		WHERE id = $3 AND test_id = $4
	`, in.Question.En, in.Question.Ta, questionID, testID)
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrQuestionNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM test_options WHERE question_id = $1`, questionID); err != nil {
		return nil, fmt.Errorf("delete options: %w", err)
	}
	opts, err := insertOptions(ctx, tx, questionID, in.Options)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tests SET updated_at = now() WHERE id = $1`, testID); err != nil {
		return nil, fmt.Errorf("touch test: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &Question{ID: questionID, TestID: testID, Question: in.Question, Options: opts}, nil
}

// DeleteQuestion removes a question of the test; its options go with it.
func (s *Service) DeleteQuestion(ctx context.Context, testID, questionID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM test_questions
		WHERE id = $1 AND test_id = $2
	`, questionID, testID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

// ListQuestions returns the test's questions by id with their options by id,
// correct flags included.
func (s *Service) ListQuestions(ctx context.Context, testID int64) ([]Question, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tests WHERE id = $1)`, testID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check test: %w", err)
	}
	if !exists {
		return nil, ErrTestNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			q.id,
			q.question_english,
			q.question_tamil,
			o.id,
			o.option_english,
			o.option_tamil,
			o.is_correct
		FROM test_questions q
		LEFT JOIN test_options o ON o.question_id = q.id
		WHERE q.test_id = $1
		ORDER BY q.id ASC, o.id ASC
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		var (
			qID       int64
			qEn, qTa  string
			optID     sql.NullInt64
			oEn, oTa  sql.NullString
			isCorrect sql.NullBool
		)
		if err := rows.Scan(&qID, &qEn, &qTa, &optID, &oEn, &oTa, &isCorrect); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != qID {
			out = append(out, Question{
				ID:       qID,
				TestID:   testID,
				Question: LocalizedText{En: qEn, Ta: qTa},
				Options:  make([]Option, 0, 4),
			})
		}
		if optID.Valid {
			last := &out[len(out)-1]
			last.Options = append(last.Options, Option{
				ID:        optID.Int64,
				Text:      LocalizedText{En: oEn.String, Ta: oTa.String},
				IsCorrect: isCorrect.Bool,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

// UpdateTestSettings overwrites the editable settings in a single statement.
// An empty status is stored as draft.
func (s *Service) UpdateTestSettings(ctx context.Context, testID int64, in SettingsInput) (*Test, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.Status == "" {
		in.Status = StatusDraft
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE tests
		SET
			title = $1,
			description = $2,
			category = $3,
			passing_score = $4,
			duration_minutes = $5,
			instructions = $6,
			status = $7,
			is_free = $8,
			shuffle_questions = $9,
			show_results_immediately = $10,
			allow_answer_review = $11,
			enable_time_limit = $12,
			updated_at = now()
		WHERE id = $13
		RETURNING `+testColumns,
		in.Title,
		strings.TrimSpace(in.Description),
		strings.TrimSpace(in.Category),
		in.PassingScore,
		totalMinutes(in.DurationHours, in.DurationMinutes),
		in.Instructions,
		in.Status,
		in.IsFree,
		in.ShuffleQuestions,
		in.ShowResultsImmediately,
		in.AllowAnswerReview,
		in.EnableTimeLimit,
		testID,
	)
	t, err := scanTest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("update test settings: %w", err)
	}
	return t, nil
}

// SearchTests matches the query case-insensitively against title, description
// and folder name. The count and the page are read concurrently.
func (s *Service) SearchTests(ctx context.Context, p SearchParams) (*SearchResult, error) {
	p = normalizeSearchParams(p)
	pattern := "%" + escapeLike(p.Query) + "%"

	orderBy := "t.title ASC, t.id ASC"
	if p.Sort == SortModified || p.Sort == SortDate {
		orderBy = "t.updated_at DESC, t.id DESC"
	}

	const where = `
		FROM tests t
		LEFT JOIN test_folders f ON f.id = t.folder_id
		WHERE t.title ILIKE $1
			OR t.description ILIKE $1
			OR f.name ILIKE $1
	`

	var (
		total int
		items = make([]SearchItem, 0)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.db.QueryRowContext(gctx, `SELECT COUNT(*) `+where, pattern).Scan(&total); err != nil {
			return fmt.Errorf("count tests: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		rows, err := s.db.QueryContext(gctx, `
			SELECT
				t.id,
				t.title,
				t.description,
				t.category,
				t.status,
				t.is_free,
				t.created_at,
				t.updated_at,
				f.name,
				f.id,
				(SELECT COUNT(*) FROM test_questions q WHERE q.test_id = t.id) AS question_count
			`+where+`
			ORDER BY `+orderBy+`
			LIMIT $2 OFFSET $3
		`, pattern, p.Limit, (p.Page-1)*p.Limit)
		if err != nil {
			return fmt.Errorf("search tests: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				it         SearchItem
				folderName sql.NullString
				folderID   sql.NullInt64
			)
			if err := rows.Scan(
				&it.ID, &it.Title, &it.Description, &it.Category, &it.Status, &it.IsFree,
				&it.CreatedAt, &it.UpdatedAt, &folderName, &folderID, &it.QuestionCount,
			); err != nil {
				return fmt.Errorf("scan search row: %w", err)
			}
			if folderName.Valid {
				v := folderName.String
				it.FolderName = &v
			}
			if folderID.Valid {
				v := folderID.Int64
				it.FolderID = &v
			}
			items = append(items, it)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &SearchResult{
		Pagination: Pagination{
			Total:       total,
			TotalPages:  int(math.Ceil(float64(total) / float64(p.Limit))),
			CurrentPage: p.Page,
			Limit:       p.Limit,
		},
		Query: p.Query,
		Sort:  p.Sort,
		Tests: items,
	}, nil
}

func normalizeSearchParams(p SearchParams) SearchParams {
	p.Query = strings.TrimSpace(p.Query)
	switch p.Sort {
	case SortModified, SortDate:
	default:
		p.Sort = SortName
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func normalizeQuestionInput(in QuestionInput) QuestionInput {
	in.Question.En = strings.TrimSpace(in.Question.En)
	in.Question.Ta = strings.TrimSpace(in.Question.Ta)
	opts := make([]OptionInput, len(in.Options))
	for i, o := range in.Options {
		o.Text.En = strings.TrimSpace(o.Text.En)
		o.Text.Ta = strings.TrimSpace(o.Text.Ta)
		opts[i] = o
	}
	in.Options = opts
	return in
}

// validateQuestionInput enforces field rules and the single-correct-option rule.
func validateQuestionInput(in QuestionInput) error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	correct := 0
	for _, o := range in.Options {
		if o.IsCorrect {
			correct++
		}
	}
	if correct != 1 {
		return fmt.Errorf("%w: exactly one option must be marked correct, got %d", ErrInvalidInput, correct)
	}
	return nil
}

func insertQuestion(ctx context.Context, tx *sql.Tx, testID int64, in QuestionInput) (*Question, error) {
	var questionID int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO test_questions (test_id, question_english, question_tamil)
		VALUES ($1, $2, $3)
		RETURNING id
	`, testID, in.Question.En, in.Question.Ta).Scan(&questionID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("insert question: %w", err)
	}

	opts, err := insertOptions(ctx, tx, questionID, in.Options)
	if err != nil {
		return nil, err
	}
	return &Question{ID: questionID, TestID: testID, Question: in.Question, Options: opts}, nil
}

func insertOptions(ctx context.Context, tx *sql.Tx, questionID int64, in []OptionInput) ([]Option, error) {
	out := make([]Option, 0, len(in))
	for _, o := range in {
		opt := Option{Text: o.Text, IsCorrect: o.IsCorrect}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO test_options (question_id, option_english, option_tamil, is_correct)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, questionID, o.Text.En, o.Text.Ta, o.IsCorrect).Scan(&opt.ID); err != nil {
			return nil, fmt.Errorf("insert option: %w", err)
		}
		out = append(out, opt)
	}
	return out, nil
}

const testColumns = `
	id, folder_id, title, description, category, passing_score, duration_minutes,
	instructions, status, is_free, shuffle_questions, show_results_immediately,
	allow_answer_review, enable_time_limit, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTest(row rowScanner) (*Test, error) {
	var (
		t        Test
		folderID sql.NullInt64
	)
	if err := row.Scan(
		&t.ID, &folderID, &t.Title, &t.Description, &t.Category, &t.PassingScore, &t.DurationMinutes,
		&t.Instructions, &t.Status, &t.IsFree, &t.ShuffleQuestions, &t.ShowResultsImmediately,
		&t.AllowAnswerReview, &t.EnableTimeLimit, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if folderID.Valid {
		v := folderID.Int64
		t.FolderID = &v
	}
	return &t, nil
}
