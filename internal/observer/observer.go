package observer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gnemet/PromptDeck/internal/config"
	"github.com/gnemet/PromptDeck/internal/database"
	"github.com/gnemet/PromptDeck/internal/pptx"
)

// DefaultDebounce is how long a file must stay quiet before it is processed.
const DefaultDebounce = 2 * time.Second

// maxRunDepth bounds how far below the stage directory presentations are
// looked for: <stage>/<run-id>/<sub>/deck.pptx is the deepest.
const maxRunDepth = 2

// extractFunc renders the slides of a presentation as PNG files into outDir.
type extractFunc func(ctx context.Context, path, outDir string) ([]string, error)

// Observer registers presentations that appear in the run directories under
// the stage directory.
type Observer struct {
	cfg      *config.Config
	db       *sql.DB
	LogChan  chan string
	Debounce time.Duration

	activeTasks int
	mu          sync.Mutex
	pending     map[string]*time.Timer
	// process serializes file processing between Scan and watcher events.
	process sync.Mutex
	// extract is nil when the converters are not installed.
	extract extractFunc
}

func NewObserver(cfg *config.Config, db *sql.DB, logChan chan string) *Observer {
	o := &Observer{
		cfg:      cfg,
		db:       db,
		LogChan:  logChan,
		Debounce: DefaultDebounce,
		pending:  make(map[string]*time.Timer),
	}
	if cfg.Application.Thumbnails && pptx.ThumbnailsAvailable() {
		o.extract = pptx.ExtractSlidesToPNG
	}
	return o
}

func (o *Observer) log(level slog.Level, format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), level, "Observer: "+msg)
	if o.LogChan != nil {
		select {
		case o.LogChan <- msg:
		default:
			// fast non-blocking drop if buffer full
		}
	}
}

func (o *Observer) incrementTask() {
	o.mu.Lock()
	o.activeTasks++
	o.mu.Unlock()
}

func (o *Observer) decrementTask() {
	o.mu.Lock()
	o.activeTasks--
	o.mu.Unlock()
}

func (o *Observer) IsProcessing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeTasks > 0 || len(o.pending) > 0
}

func (o *Observer) stageDir() string {
	dir, err := filepath.Abs(o.cfg.Application.Storage.Stage)
	if err != nil {
		return filepath.Clean(o.cfg.Application.Storage.Stage)
	}
	return dir
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// depth returns how many directories dir lies below the stage directory, or
// -1 when it is outside of it.
func (o *Observer) depth(dir string) int {
	rel, err := filepath.Rel(o.stageDir(), absPath(dir))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return -1
	}
	if rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

// watchTree adds dir and its subdirectories down to maxRunDepth.
func (o *Observer) watchTree(watcher *fsnotify.Watcher, dir string) {
	if err := watcher.Add(dir); err != nil {
		o.log(slog.LevelWarn, "Failed to watch %s: %v", dir, err)
		return
	}
	if o.depth(dir) >= maxRunDepth {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			o.watchTree(watcher, filepath.Join(dir, e.Name()))
		}
	}
}

// Start watches the stage directory until ctx is done.
func (o *Observer) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	stageDir := o.cfg.Application.Storage.Stage
	if stageDir == "" {
		return fmt.Errorf("stage storage directory not configured")
	}
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("failed to create stage directory: %w", err)
	}
	if err := watcher.Add(stageDir); err != nil {
		return err
	}

	entries, err := os.ReadDir(stageDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			o.watchTree(watcher, filepath.Join(stageDir, e.Name()))
		}
	}

	o.log(slog.LevelInfo, "Background observer started, watching: %s", stageDir)
	o.ScanAll()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			o.handleEvent(watcher, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			o.log(slog.LevelError, "Watcher error: %v", err)

		case <-ctx.Done():
			o.stopPending()
			return nil
		}
	}
}

func (o *Observer) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if d := o.depth(event.Name); d < 1 || d > maxRunDepth {
				return
			}
			o.watchTree(watcher, event.Name)
			// Files created before the watch was added would be missed.
			go o.Scan(event.Name)
			return
		}
	}

	if isPresentation(event.Name) {
		o.schedule(event.Name)
	}
}

// schedule processes path once no event has touched it for Debounce.
func (o *Observer) schedule(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if t, ok := o.pending[path]; ok {
		t.Reset(o.Debounce)
		return
	}
	o.pending[path] = time.AfterFunc(o.Debounce, func() {
		o.mu.Lock()
		delete(o.pending, path)
		o.mu.Unlock()

		if _, err := o.processFile(path); err != nil {
			o.log(slog.LevelWarn, "Failed to process %s: %v", filepath.Base(path), err)
		}
	})
}

func (o *Observer) stopPending() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for path, t := range o.pending {
		t.Stop()
		delete(o.pending, path)
	}
}

func isPresentation(name string) bool {
	base := filepath.Base(name)
	// Office lock files look like ~$deck.pptx.
	return strings.HasSuffix(strings.ToLower(base), ".pptx") && !strings.HasPrefix(base, "~$")
}

// ScanAll scans the stage directory and every run directory in it.
func (o *Observer) ScanAll() {
	stageDir := o.cfg.Application.Storage.Stage
	o.Scan(stageDir)

	entries, err := os.ReadDir(stageDir)
	if err != nil {
		o.log(slog.LevelError, "Failed to scan directory: %v", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			o.Scan(filepath.Join(stageDir, e.Name()))
		}
	}
}

// Scan synchronously registers the presentations in dir and returns the
// registered files. Inside a run directory, subdirectories are scanned too,
// down to maxRunDepth below the stage directory.
func (o *Observer) Scan(dir string) []database.PresentationFile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		o.log(slog.LevelError, "Failed to scan directory %s: %v", dir, err)
		return nil
	}

	var files []database.PresentationFile
	for _, e := range entries {
		if e.IsDir() {
			sub := filepath.Join(dir, e.Name())
			// Run directories directly under the stage are scanned by ScanAll.
			if d := o.depth(sub); d >= 2 && d <= maxRunDepth {
				files = append(files, o.Scan(sub)...)
			}
			continue
		}
		if !isPresentation(e.Name()) {
			continue
		}
		f, err := o.processFile(filepath.Join(dir, e.Name()))
		if err != nil {
			o.log(slog.LevelWarn, "Failed to process %s: %v", e.Name(), err)
			continue
		}
		files = append(files, *f)
	}
	return files
}

// runIDFor maps <stage>/<run-id>/deck.pptx and <stage>/<run-id>/<sub>/deck.pptx
// to run-id. Files placed directly in the stage directory belong to no run.
func (o *Observer) runIDFor(path string) string {
	dir := filepath.Dir(absPath(path))
	if d := o.depth(dir); d < 1 || d > maxRunDepth {
		return ""
	}
	rel, _ := filepath.Rel(o.stageDir(), dir)
	return strings.Split(rel, string(filepath.Separator))[0]
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (o *Observer) processFile(path string) (*database.PresentationFile, error) {
	o.incrementTask()
	defer o.decrementTask()
	o.process.Lock()
	defer o.process.Unlock()

	filename := filepath.Base(path)
	runID := o.runIDFor(path)

	checksum, err := checksumFile(path)
	if err != nil {
		return nil, fmt.Errorf("checksum: %w", err)
	}

	existing, err := database.GetFileByPath(o.db, absPath(path))
	switch {
	case err == nil && existing.Checksum == checksum:
		o.log(slog.LevelDebug, "File %s (checksum: %.12s) unchanged, skipping", filename, checksum)
		return o.refreshThumbnails(existing, path)
	case err == nil:
		o.log(slog.LevelInfo, "File %s changed, reprocessing", filename)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("path lookup: %w", err)
	}

	// The same bytes saved twice within one run.
	if dup, err := database.GetFileByChecksum(o.db, runID, checksum); err == nil {
		o.log(slog.LevelDebug, "File %s (checksum: %.12s) already registered for run %q as %s, skipping", filename, checksum, runID, dup.Filename)
		return dup, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checksum lookup: %w", err)
	}

	o.log(slog.LevelInfo, "Processing file: %s", filename)

	// A half-written archive fails here; the next write event retries.
	slides, err := pptx.ReadSlides(path)
	if err != nil {
		return nil, fmt.Errorf("read slides: %w", err)
	}

	title := ""
	if len(slides) > 0 && slides[0].Slide != nil {
		title = slides[0].Slide.Title()
	}

	pngFiles := o.thumbnails(path, runID, filename)
	thumbDir := ""
	if len(pngFiles) > 0 {
		thumbDir = filepath.Dir(pngFiles[0])
	}

	file := &database.PresentationFile{
		RunID:        runID,
		Filename:     filename,
		FilePath:     absPath(path),
		Checksum:     checksum,
		SlideCount:   len(slides),
		Title:        title,
		ThumbnailDir: thumbDir,
	}
	if _, err := database.SavePresentationFile(o.db, file); err != nil {
		return nil, fmt.Errorf("save file: %w", err)
	}

	records := make([]database.Slide, 0, len(slides))
	for i, s := range slides {
		rec := database.Slide{
			SlideNum: s.SlideNumber,
			Title:    fmt.Sprintf("Slide %d", s.SlideNumber),
			Content:  s.Text,
		}
		if s.Slide != nil && s.Slide.Title() != "" {
			rec.Title = fmt.Sprintf("%d. %s", s.SlideNumber, s.Slide.Title())
		}
		if i < len(pngFiles) {
			rec.PNGPath = pngFiles[i]
		}
		records = append(records, rec)
	}
	if err := database.ReplaceSlides(o.db, file.ID, records); err != nil {
		return nil, fmt.Errorf("save slides: %w", err)
	}

	o.log(slog.LevelInfo, "Successfully processed: %s (run %q, %d slides, title %q)", filename, runID, len(slides), title)
	return file, nil
}

// refreshThumbnails renders the thumbnails of an unchanged file registered
// while they were unavailable, and links them to its stored slides.
func (o *Observer) refreshThumbnails(f *database.PresentationFile, path string) (*database.PresentationFile, error) {
	if f.ThumbnailDir != "" || o.extract == nil {
		return f, nil
	}
	pngFiles := o.thumbnails(path, f.RunID, f.Filename)
	if len(pngFiles) == 0 {
		return f, nil
	}

	slides, err := database.GetSlidesByFile(o.db, f.ID)
	if err != nil {
		return nil, fmt.Errorf("load slides: %w", err)
	}
	for i := range slides {
		if i < len(pngFiles) {
			slides[i].PNGPath = pngFiles[i]
		}
	}
	f.ThumbnailDir = filepath.Dir(pngFiles[0])
	if _, err := database.SavePresentationFile(o.db, f); err != nil {
		return nil, fmt.Errorf("save file: %w", err)
	}
	if err := database.ReplaceSlides(o.db, f.ID, slides); err != nil {
		return nil, fmt.Errorf("save slides: %w", err)
	}
	o.log(slog.LevelInfo, "Generated %d thumbnails for %s", len(pngFiles), f.Filename)
	return f, nil
}

func (o *Observer) thumbnails(path, runID, filename string) []string {
	if o.extract == nil {
		return nil
	}

	owner := runID
	if owner == "" {
		owner = "_stage"
	}
	thumbDir := filepath.Join(o.cfg.Application.Storage.Thumbnails, owner, strings.TrimSuffix(filename, filepath.Ext(filename)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	pngFiles, err := o.extract(ctx, path, thumbDir)
	if err != nil {
		o.log(slog.LevelWarn, "Failed to extract thumbnails from %s: %v", filename, err)
		return nil
	}
	return pngFiles
}
