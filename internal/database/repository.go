package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusPending      = "pending"
	StatusGenerated    = "generated"
	StatusMaterialized = "materialized"
	StatusExecuted     = "executed"
	StatusFailed       = "failed"
)

type Run struct {
	ID         string     `json:"id"`
	Prompt     string     `json:"prompt"`
	Provider   string     `json:"provider"`
	Status     string     `json:"status"`
	Message    string     `json:"message"`
	ScriptPath string     `json:"script_path"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Stdout     string     `json:"stdout,omitempty"`
	Stderr     string     `json:"stderr,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type PresentationFile struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Filename     string    `json:"filename"`
	FilePath     string    `json:"file_path"`
	Checksum     string    `json:"checksum"`
	SlideCount   int       `json:"slide_count"`
	Title        string    `json:"title"`
	ThumbnailDir string    `json:"thumbnail_dir"`
	CreatedAt    time.Time `json:"created_at"`
}

type Slide struct {
	ID       string `json:"id"`
	FileID   string `json:"file_id"`
	SlideNum int    `json:"slide_number"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	PNGPath  string `json:"png_path"`
}

type RunWithFiles struct {
	Run
	Files []PresentationFile `json:"files"`
}

// CreateRun inserts a pending run and fills in its ID and CreatedAt.
func CreateRun(db *sql.DB, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	r.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO generation_runs (id, prompt, provider, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.Exec(query, r.ID, r.Prompt, r.Provider, r.Status, r.Message, r.CreatedAt)
	return err
}

// UpdateRunStatus records an intermediate status.
func UpdateRunStatus(db *sql.DB, id, status, scriptPath string) error {
	_, err := db.Exec("UPDATE generation_runs SET status = $1, script_path = $2 WHERE id = $3", status, scriptPath, id)
	return err
}

// FinishRun stores the final state of a run. exitCode is nil when the script
// never ran.
func FinishRun(db *sql.DB, r *Run) error {
	now := time.Now().UTC()
	r.FinishedAt = &now

	var exitCode sql.NullInt64
	if r.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*r.ExitCode), Valid: true}
	}

	query := `
		UPDATE generation_runs
		SET status = $1, message = $2, script_path = $3, exit_code = $4, stdout = $5, stderr = $6, finished_at = $7
		WHERE id = $8
	`
	res, err := db.Exec(query, r.Status, r.Message, r.ScriptPath, exitCode, r.Stdout, r.Stderr, now, r.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const runColumns = "id, prompt, provider, status, message, script_path, exit_code, stdout, stderr, created_at, finished_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var exitCode sql.NullInt64
	var finished sql.NullTime
	if err := s.Scan(&r.ID, &r.Prompt, &r.Provider, &r.Status, &r.Message, &r.ScriptPath,
		&exitCode, &r.Stdout, &r.Stderr, &r.CreatedAt, &finished); err != nil {
		return nil, err
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		r.ExitCode = &code
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

func GetRun(db *sql.DB, id string) (*Run, error) {
	return scanRun(db.QueryRow("SELECT "+runColumns+" FROM generation_runs WHERE id = $1", id))
}

// GetRecentRuns returns at most limit runs, newest first.
func GetRecentRuns(db *sql.DB, limit int) ([]Run, error) {
	rows, err := db.Query("SELECT "+runColumns+" FROM generation_runs ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRecentRunsWithFiles attaches the artifacts of each run.
func GetRecentRunsWithFiles(db *sql.DB, limit int) ([]RunWithFiles, error) {
	runs, err := GetRecentRuns(db, limit)
	if err != nil {
		return nil, err
	}

	result := make([]RunWithFiles, 0, len(runs))
	for _, r := range runs {
		files, err := GetFilesByRun(db, r.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, RunWithFiles{Run: r, Files: files})
	}
	return result, nil
}

// SavePresentationFile inserts or updates the row for f.FilePath and returns
// the stored ID.
func SavePresentationFile(db *sql.DB, f *PresentationFile) (string, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO presentation_files (id, run_id, filename, file_path, checksum, slide_count, title, thumbnail_dir, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (file_path) DO UPDATE SET
			run_id = excluded.run_id,
			filename = excluded.filename,
			checksum = excluded.checksum,
			slide_count = excluded.slide_count,
			title = excluded.title,
			thumbnail_dir = excluded.thumbnail_dir,
			created_at = excluded.created_at
		RETURNING id
	`
	var id string
	err := db.QueryRow(query, f.ID, f.RunID, f.Filename, f.FilePath, f.Checksum, f.SlideCount, f.Title, f.ThumbnailDir, f.CreatedAt).Scan(&id)
	if err != nil {
		return "", err
	}
	f.ID = id
	return id, nil
}

const fileColumns = "id, run_id, filename, file_path, checksum, slide_count, title, thumbnail_dir, created_at"

func scanFile(s scanner) (*PresentationFile, error) {
	var f PresentationFile
	if err := s.Scan(&f.ID, &f.RunID, &f.Filename, &f.FilePath, &f.Checksum, &f.SlideCount, &f.Title, &f.ThumbnailDir, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func GetFileByPath(db *sql.DB, path string) (*PresentationFile, error) {
	return scanFile(db.QueryRow("SELECT "+fileColumns+" FROM presentation_files WHERE file_path = $1", path))
}

func GetFileByChecksum(db *sql.DB, runID, checksum string) (*PresentationFile, error) {
	return scanFile(db.QueryRow("SELECT "+fileColumns+" FROM presentation_files WHERE run_id = $1 AND checksum = $2", runID, checksum))
}

// GetFilesByRun returns the artifacts of a run, newest first.
func GetFilesByRun(db *sql.DB, runID string) ([]PresentationFile, error) {
	rows, err := db.Query("SELECT "+fileColumns+" FROM presentation_files WHERE run_id = $1 ORDER BY created_at DESC", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []PresentationFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// GetLatestFileByRun returns sql.ErrNoRows when the run has no artifact.
func GetLatestFileByRun(db *sql.DB, runID string) (*PresentationFile, error) {
	return scanFile(db.QueryRow("SELECT "+fileColumns+" FROM presentation_files WHERE run_id = $1 ORDER BY created_at DESC LIMIT 1", runID))
}

// ReplaceSlides swaps the stored slides of a file in one transaction.
func ReplaceSlides(db *sql.DB, fileID string, slides []Slide) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM presentation_slides WHERE file_id = $1", fileID); err != nil {
		return err
	}
	for i := range slides {
		s := &slides[i]
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		s.FileID = fileID
		_, err := tx.Exec(`
			INSERT INTO presentation_slides (id, file_id, slide_number, title, content, png_path)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, s.ID, s.FileID, s.SlideNum, s.Title, s.Content, s.PNGPath)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func GetSlidesByFile(db *sql.DB, fileID string) ([]Slide, error) {
	rows, err := db.Query("SELECT id, file_id, slide_number, title, content, png_path FROM presentation_slides WHERE file_id = $1 ORDER BY slide_number", fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slides []Slide
	for rows.Next() {
		var s Slide
		if err := rows.Scan(&s.ID, &s.FileID, &s.SlideNum, &s.Title, &s.Content, &s.PNGPath); err != nil {
			return nil, err
		}
		slides = append(slides, s)
	}
	return slides, rows.Err()
}

func GetTotalSlideCount(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM presentation_slides").Scan(&count)
	return count, err
}
