package folder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"quizlms/internal/app/validate"
	"quizlms/internal/db"

	"golang.org/x/sync/errgroup"
)

var (
	ErrFolderNotFound    = errors.New("folder not found")
	ErrParentNotFound    = errors.New("parent folder not found")
	ErrFolderNotEmpty    = errors.New("folder is not empty")
	ErrFolderHasAttempts = errors.New("folder contains tests with recorded attempts")
	ErrInvalidInput      = errors.New("invalid input")
)

// maxDepth bounds the breadcrumb walk so corrupt parent links cannot loop forever.
const maxDepth = 256

type DeleteMode string

const (
	DeleteRestrict DeleteMode = "restrict"
	DeleteCascade  DeleteMode = "cascade"
)

func ParseDeleteMode(v string) (DeleteMode, error) {
	switch DeleteMode(strings.ToLower(strings.TrimSpace(v))) {
	case "", DeleteRestrict:
		return DeleteRestrict, nil
	case DeleteCascade:
		return DeleteCascade, nil
	default:
		return "", fmt.Errorf("%w: mode must be restrict or cascade", ErrInvalidInput)
	}
}

type Service struct {
	db *sql.DB
}

type Folder struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Breadcrumb struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type TestSummary struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	IsFree bool   `json:"is_free"`
	Status string `json:"status"`
}

type Contents struct {
	Folder      Folder        `json:"folder"`
	Breadcrumbs []Breadcrumb  `json:"breadcrumbs"`
	Folders     []Folder      `json:"folders"`
	Tests       []TestSummary `json:"tests"`
}

type RootFolder struct {
	Folder
	SubfolderCount int `json:"subfolder_count"`
	TestCount      int `json:"test_count"`
}

type CreateFolderInput struct {
	Name     string `json:"name" validate:"notblank,max=255"`
	ParentID *int64 `json:"parent_id" validate:"omitempty,gt=0"`
}

type DeleteResult struct {
	Folder         Folder     `json:"folder"`
	Mode           DeleteMode `json:"mode"`
	DeletedFolders int        `json:"deleted_folders"`
	DeletedTests   int        `json:"deleted_tests"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateFolder inserts a folder under an existing parent, or at the root when
// ParentID is nil. A new node has no descendants, so attaching it to an
// existing parent cannot close a cycle.
func (s *Service) CreateFolder(ctx context.Context, in CreateFolderInput) (*Folder, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	f := Folder{Name: in.Name, ParentID: in.ParentID}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO test_folders (name, parent_id)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, in.Name, nullableID(in.ParentID)).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, ErrParentNotFound
		}
		return nil, fmt.Errorf("insert folder: %w", err)
	}
	return &f, nil
}

// GetFolderContents returns the folder, its root-first breadcrumb chain, its
// direct subfolders and its direct tests. publicAccess limits tests to free
// published ones.
func (s *Service) GetFolderContents(ctx context.Context, folderID int64, publicAccess bool) (*Contents, error) {
	out := &Contents{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		f, err := s.loadFolder(gctx, s.db, folderID, false)
		if err != nil {
			return err
		}
		out.Folder = *f
		return nil
	})
	g.Go(func() error {
		crumbs, err := s.breadcrumbs(gctx, folderID)
		out.Breadcrumbs = crumbs
		return err
	})
	g.Go(func() error {
		children, err := s.listChildren(gctx, folderID)
		out.Folders = children
		return err
	})
	g.Go(func() error {
		tests, err := s.listTests(gctx, folderID, publicAccess)
		out.Tests = tests
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ListRootFolders(ctx context.Context) ([]RootFolder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			tf.id,
			tf.name,
			tf.created_at,
			(SELECT COUNT(*) FROM test_folders sub WHERE sub.parent_id = tf.id) AS subfolder_count,
			(SELECT COUNT(*) FROM tests t WHERE t.folder_id = tf.id) AS test_count
		FROM test_folders tf
		WHERE tf.parent_id IS NULL
		ORDER BY tf.name ASC, tf.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query root folders: %w", err)
	}
	defer rows.Close()

	out := make([]RootFolder, 0)
	for rows.Next() {
		var it RootFolder
		if err := rows.Scan(&it.ID, &it.Name, &it.CreatedAt, &it.SubfolderCount, &it.TestCount); err != nil {
			return nil, fmt.Errorf("scan root folder: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate root folders: %w", err)
	}
	return out, nil
}

// DeleteFolder removes a folder. DeleteRestrict refuses when the folder has
// subfolders or tests. DeleteCascade removes the whole subtree with its tests,
// questions and options, and refuses when any of those tests has attempts.
func (s *Service) DeleteFolder(ctx context.Context, folderID int64, mode DeleteMode) (*DeleteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	f, err := s.loadFolder(ctx, tx, folderID, true)
	if err != nil {
		return nil, err
	}

	res := &DeleteResult{Folder: *f, Mode: mode}
	switch mode {
	case DeleteRestrict:
		var children, tests int
		if err := tx.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM test_folders WHERE parent_id = $1),
				(SELECT COUNT(*) FROM tests WHERE folder_id = $1)
		`, folderID).Scan(&children, &tests); err != nil {
			return nil, fmt.Errorf("count folder contents: %w", err)
		}
		if children > 0 || tests > 0 {
			return nil, ErrFolderNotEmpty
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM test_folders WHERE id = $1`, folderID); err != nil {
			if db.IsForeignKeyViolation(err) {
				return nil, ErrFolderNotEmpty
			}
			return nil, fmt.Errorf("delete folder: %w", err)
		}
		res.DeletedFolders = 1

	case DeleteCascade:
		ids, err := subtreeIDs(ctx, tx, folderID)
		if err != nil {
			return nil, err
		}

		var hasAttempts bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1
				FROM test_attempts a
				JOIN tests t ON t.id = a.test_id
				WHERE t.folder_id = ANY($1)
			)
		`, ids).Scan(&hasAttempts); err != nil {
			return nil, fmt.Errorf("check attempts: %w", err)
		}
		if hasAttempts {
			return nil, ErrFolderHasAttempts
		}

		testsRes, err := tx.ExecContext(ctx, `DELETE FROM tests WHERE folder_id = ANY($1)`, ids)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return nil, ErrFolderHasAttempts
			}
			return nil, fmt.Errorf("delete tests: %w", err)
		}
		n, _ := testsRes.RowsAffected()
		res.DeletedTests = int(n)

		if _, err := tx.ExecContext(ctx, `DELETE FROM test_folders WHERE id = ANY($1)`, ids); err != nil {
			if db.IsForeignKeyViolation(err) {
				return nil, ErrFolderNotEmpty
			}
			return nil, fmt.Errorf("delete folders: %w", err)
		}
		res.DeletedFolders = len(ids)

	default:
		return nil, fmt.Errorf("%w: unknown delete mode %q", ErrInvalidInput, mode)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

func (s *Service) loadFolder(ctx context.Context, q queryable, folderID int64, forUpdate bool) (*Folder, error) {
	query := `
		SELECT id, name, parent_id, created_at
		FROM test_folders
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		f        Folder
		parentID sql.NullInt64
	)
	if err := q.QueryRowContext(ctx, query, folderID).Scan(&f.ID, &f.Name, &parentID, &f.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFolderNotFound
		}
		return nil, fmt.Errorf("load folder: %w", err)
	}
	if parentID.Valid {
		v := parentID.Int64
		f.ParentID = &v
	}
	return &f, nil
}

func (s *Service) breadcrumbs(ctx context.Context, folderID int64) ([]Breadcrumb, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, name, parent_id, 0 AS depth
			FROM test_folders
			WHERE id = $1
			UNION ALL
			SELECT f.id, f.name, f.parent_id, c.depth + 1
			FROM test_folders f
			JOIN chain c ON f.id = c.parent_id
			WHERE c.depth < $2
		)
		SELECT id, name
		FROM chain
		ORDER BY depth DESC
	`, folderID, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("query breadcrumbs: %w", err)
	}
	defer rows.Close()

	out := make([]Breadcrumb, 0)
	for rows.Next() {
		var b Breadcrumb
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, fmt.Errorf("scan breadcrumb: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate breadcrumbs: %w", err)
	}
	return out, nil
}

func (s *Service) listChildren(ctx context.Context, folderID int64) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, parent_id, created_at
		FROM test_folders
		WHERE parent_id = $1
		ORDER BY name ASC, id ASC
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("query subfolders: %w", err)
	}
	defer rows.Close()

	out := make([]Folder, 0)
	for rows.Next() {
		var (
			f        Folder
			parentID sql.NullInt64
		)
		if err := rows.Scan(&f.ID, &f.Name, &parentID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subfolder: %w", err)
		}
		if parentID.Valid {
			v := parentID.Int64
			f.ParentID = &v
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subfolders: %w", err)
	}
	return out, nil
}

func (s *Service) listTests(ctx context.Context, folderID int64, publicAccess bool) ([]TestSummary, error) {
	query := `
		SELECT id, title, is_free, status
		FROM tests
		WHERE folder_id = $1
	`
	if publicAccess {
		query += ` AND is_free = TRUE AND status = 'published'`
	}
	query += ` ORDER BY title ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, folderID)
	if err != nil {
		return nil, fmt.Errorf("query folder tests: %w", err)
	}
	defer rows.Close()

	out := make([]TestSummary, 0)
	for rows.Next() {
		var t TestSummary
		if err := rows.Scan(&t.ID, &t.Title, &t.IsFree, &t.Status); err != nil {
			return nil, fmt.Errorf("scan folder test: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folder tests: %w", err)
	}
	return out, nil
}

func subtreeIDs(ctx context.Context, tx *sql.Tx, folderID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id FROM test_folders WHERE id = $1
			UNION
			SELECT f.id
			FROM test_folders f
			JOIN subtree s ON f.parent_id = s.id
		)
		SELECT id FROM subtree
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("query subtree: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subtree id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtree: %w", err)
	}
	return ids, nil
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}
