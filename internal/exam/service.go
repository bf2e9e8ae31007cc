package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"quizlms/internal/db"
)

var (
	ErrTestNotFound    = errors.New("test not found")
	ErrAttemptNotFound = errors.New("attempt not found")
	ErrInvalidInput    = errors.New("invalid input")
)

const (
	HistorySortDateDesc  = "date_desc"
	HistorySortDateAsc   = "date_asc"
	HistorySortScoreDesc = "score_desc"

	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
	maxAnswers          = 1000
)

type Service struct {
	db *sql.DB
}

type SubmitInput struct {
	TestID           int64
	UserID           int64
	Answers          []Answer
	TimeTakenSeconds int
	// AllowUnpublished lets admins score drafts and paid tests.
	AllowUnpublished bool
}

// Report is the stored attempt as returned to its owner.
type Report struct {
	AttemptID        int64          `json:"attempt_id"`
	TestID           int64          `json:"test_id"`
	TestTitle        string         `json:"test_title"`
	UserID           int64          `json:"user_id"`
	Score            int            `json:"score"`
	Passed           bool           `json:"passed"`
	TotalQuestions   int            `json:"total_questions"`
	CorrectAnswers   int            `json:"correct_answers"`
	IncorrectAnswers int            `json:"incorrect_answers"`
	Unanswered       int            `json:"unanswered"`
	TimeTakenSeconds int            `json:"time_taken_seconds"`
	PassingScore     int            `json:"passing_score"`
	Answers          []AnswerResult `json:"answers"`
	CreatedAt        time.Time      `json:"created_at"`
}

type HistoryItem struct {
	AttemptID int64     `json:"attempt_id"`
	TestID    int64     `json:"test_id"`
	TestName  string    `json:"test_name"`
	TakenDate time.Time `json:"taken_date"`
	Score     int       `json:"score"`
	Status    string    `json:"status"`
}

type Pagination struct {
	Total       int `json:"total"`
	TotalPages  int `json:"total_pages"`
	CurrentPage int `json:"current_page"`
	Limit       int `json:"limit"`
}

type HistoryPage struct {
	History    []HistoryItem `json:"history"`
	Pagination Pagination    `json:"pagination"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Submit scores one submission and records it as a new attempt. Nothing is
// written when the test does not exist or is not open to the caller.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Report, error) {
	if len(in.Answers) > maxAnswers {
		return nil, fmt.Errorf("%w: at most %d answers per submission", ErrInvalidInput, maxAnswers)
	}
	if in.TimeTakenSeconds < 0 {
		in.TimeTakenSeconds = 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		title        string
		passingScore int
		isFree       bool
		status       string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT title, passing_score, is_free, status
		FROM tests
		WHERE id = $1
		FOR SHARE
	`, in.TestID).Scan(&title, &passingScore, &isFree, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test: %w", err)
	}
	if !in.AllowUnpublished && !(isFree && status == "published") {
		return nil, ErrTestNotFound
	}

	key, err := loadAnswerKey(ctx, tx, in.TestID)
	if err != nil {
		return nil, err
	}

	ev := Evaluate(key, in.Answers, passingScore)
	answersJSON, err := json.Marshal(ev.Answers)
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}

	rep := &Report{
		TestID:           in.TestID,
		TestTitle:        title,
		UserID:           in.UserID,
		Score:            ev.Score,
		Passed:           ev.Passed,
		TotalQuestions:   ev.TotalQuestions,
		CorrectAnswers:   ev.CorrectAnswers,
		IncorrectAnswers: ev.IncorrectAnswers,
		Unanswered:       ev.Unanswered,
		TimeTakenSeconds: in.TimeTakenSeconds,
		PassingScore:     passingScore,
		Answers:          ev.Answers,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO test_attempts (
			test_id, user_id, score, passed, answers,
			total_questions, correct_answers, incorrect_answers, unanswered,
			time_taken_seconds, passing_score
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`,
		rep.TestID, rep.UserID, rep.Score, rep.Passed, string(answersJSON),
		rep.TotalQuestions, rep.CorrectAnswers, rep.IncorrectAnswers, rep.Unanswered,
		rep.TimeTakenSeconds, rep.PassingScore,
	).Scan(&rep.AttemptID, &rep.CreatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return rep, nil
}

// loadAnswerKey reads every question of the test with its lowest-id correct
// option, so several correct rows still resolve to one canonical option.
func loadAnswerKey(ctx context.Context, q queryable, testID int64) (AnswerKey, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT
			q.id,
			(
				SELECT o.id
				FROM test_options o
				WHERE o.question_id = q.id AND o.is_correct = TRUE
				ORDER BY o.id ASC
				LIMIT 1
			) AS correct_option_id
		FROM test_questions q
		WHERE q.test_id = $1
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query answer key: %w", err)
	}
	defer rows.Close()

	key := AnswerKey{}
	for rows.Next() {
		var (
			questionID int64
			correctID  sql.NullInt64
		)
		if err := rows.Scan(&questionID, &correctID); err != nil {
			return nil, fmt.Errorf("scan answer key: %w", err)
		}
		key[questionID] = correctID.Int64
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer key: %w", err)
	}
	return key, nil
}

func (s *Service) GetAttempt(ctx context.Context, attemptID int64) (*Report, error) {
	var (
		rep         Report
		answersJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			a.id, a.test_id, t.title, a.user_id, a.score, a.passed,
			a.total_questions, a.correct_answers, a.incorrect_answers, a.unanswered,
			a.time_taken_seconds, a.passing_score, a.answers, a.created_at
		FROM test_attempts a
		JOIN tests t ON t.id = a.test_id
		WHERE a.id = $1
	`, attemptID).Scan(
		&rep.AttemptID, &rep.TestID, &rep.TestTitle, &rep.UserID, &rep.Score, &rep.Passed,
		&rep.TotalQuestions, &rep.CorrectAnswers, &rep.IncorrectAnswers, &rep.Unanswered,
		&rep.TimeTakenSeconds, &rep.PassingScore, &answersJSON, &rep.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}

	rep.Answers = make([]AnswerResult, 0)
	if len(answersJSON) > 0 {
		if err := json.Unmarshal(answersJSON, &rep.Answers); err != nil {
			return nil, fmt.Errorf("decode attempt answers: %w", err)
		}
	}
	return &rep, nil
}

func (s *Service) ListHistory(ctx context.Context, userID int64, page, limit int, sort string) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	orderBy := "a.created_at DESC, a.id DESC"
	switch sort {
	case HistorySortDateAsc:
		orderBy = "a.created_at ASC, a.id ASC"
	case HistorySortScoreDesc:
		orderBy = "a.score DESC, a.created_at DESC, a.id DESC"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM test_attempts WHERE user_id = $1
	`, userID).Scan(&total); err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.test_id, t.title, a.created_at, a.score, a.passed
		FROM test_attempts a
		JOIN tests t ON t.id = a.test_id
		WHERE a.user_id = $1
		ORDER BY `+orderBy+`
		LIMIT $2 OFFSET $3
	`, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := &HistoryPage{
		History: make([]HistoryItem, 0),
		Pagination: Pagination{
			Total:       total,
			TotalPages:  int(math.Ceil(float64(total) / float64(limit))),
			CurrentPage: page,
			Limit:       limit,
		},
	}
	for rows.Next() {
		var (
			it     HistoryItem
			passed bool
		)
		if err := rows.Scan(&it.AttemptID, &it.TestID, &it.TestName, &it.TakenDate, &it.Score, &passed); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		it.Status = "Failed"
		if passed {
			it.Status = "Passed"
		}
		out.History = append(out.History, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}
