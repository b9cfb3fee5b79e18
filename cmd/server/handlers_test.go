package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gnemet/PromptDeck/internal/config"
	"github.com/gnemet/PromptDeck/internal/database"
	"github.com/gnemet/PromptDeck/internal/deck"
	"github.com/gnemet/PromptDeck/internal/generation"
	"github.com/gnemet/PromptDeck/internal/observer"
	"github.com/gnemet/PromptDeck/internal/preview"
	"github.com/gnemet/PromptDeck/internal/script"
)

type stubGenerator struct {
	output string
	err    error
	calls  atomic.Int32
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	return g.output, g.err
}

func (g *stubGenerator) Name() string { return "stub" }

func newTestApp(t *testing.T, gen generation.Generator, execute bool) (*App, *config.Config) {
	t.Helper()
	root := t.TempDir()

	cfg := &config.Config{}
	cfg.Application.Storage.Stage = filepath.Join(root, "stage")
	cfg.Application.Storage.Thumbnails = filepath.Join(root, "thumbnails")
	cfg.Application.ScriptName = "app1.sh"
	cfg.Application.DownloadName = "Generated_Presentation.pptx"
	cfg.Webhook.Language = "sh"
	cfg.Executor = config.ExecutorConfig{Enabled: execute, Interpreter: "sh"}

	db, err := database.NewConnection(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(root, "state", "test.db")})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	obs := observer.NewObserver(cfg, db, nil)
	app, err := NewApp(cfg, db, gen, script.NewExecutor(cfg.Executor), obs, NewLogHub())
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return app, cfg
}

func postPrompt(app *App, prompt string) *httptest.ResponseRecorder {
	form := url.Values{"prompt": {prompt}}
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)
	return rec
}

func get(app *App, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestIndexRendersForm(t *testing.T) {
	app, _ := newTestApp(t, &stubGenerator{}, false)
	rec := get(app, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`name="prompt"`, "Generate PPT", "Generate a PPT to enable download."} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	gen := &stubGenerator{output: "```sh\ntrue\n```"}
	app, _ := newTestApp(t, gen, false)

	rec := postPrompt(app, "   \n\t")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Please enter instructions before generating the PPT.") {
		t.Error("missing empty prompt warning")
	}
	if gen.calls.Load() != 0 {
		t.Error("backend must not be called for an empty prompt")
	}
}

func TestGenerateWhileBusy(t *testing.T) {
	gen := &stubGenerator{output: "```sh\ntrue\n```"}
	app, _ := newTestApp(t, gen, false)

	if !app.busy.TryAcquire(1) {
		t.Fatal("semaphore should be free")
	}
	defer app.busy.Release(1)

	rec := postPrompt(app, "slides please")
	if !strings.Contains(rec.Body.String(), "already being generated") {
		t.Error("missing busy warning")
	}
	if gen.calls.Load() != 0 {
		t.Error("backend must not be called while busy")
	}
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"status", &generation.StatusError{StatusCode: 500, Status: "500 Internal Server Error"}, "Failed to generate PPT. Please try again."},
		{"other", errors.New("connection refused"), "Error: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(t, &stubGenerator{err: tt.err}, true)
			rec := postPrompt(app, "slides please")
			body := rec.Body.String()
			if !strings.Contains(body, tt.want) {
				t.Errorf("body does not contain %q", tt.want)
			}
			if tt.name == "status" && strings.Contains(body, "500 Internal Server Error") {
				t.Error("status detail must not be surfaced")
			}

			runs, err := database.GetRecentRuns(app.db, 1)
			if err != nil || len(runs) != 1 {
				t.Fatalf("GetRecentRuns: %v %v", runs, err)
			}
			if runs[0].Status != database.StatusFailed || runs[0].FinishedAt == nil {
				t.Errorf("unexpected run %+v", runs[0])
			}
		})
	}
}

func TestGenerateMaterializesWhenExecutionDisabled(t *testing.T) {
	gen := &stubGenerator{output: "Here you go:\n```sh\necho hi\n```\n"}
	app, cfg := newTestApp(t, gen, false)

	rec := postPrompt(app, "slides please")
	body := rec.Body.String()
	if !strings.Contains(body, "PowerPoint code received successfully!") || !strings.Contains(body, "Execution is disabled") {
		t.Errorf("unexpected messages in %s", body)
	}

	runs, _ := database.GetRecentRuns(app.db, 1)
	if len(runs) != 1 || runs[0].Status != database.StatusMaterialized {
		t.Fatalf("unexpected runs %+v", runs)
	}
	data, err := os.ReadFile(filepath.Join(cfg.Application.Storage.Stage, runs[0].ID, "app1.sh"))
	if err != nil {
		t.Fatalf("script not materialized: %v", err)
	}
	if string(data) != "echo hi\n" {
		t.Errorf("script = %q", data)
	}
}

func TestGenerateExecutesAndServesArtifact(t *testing.T) {
	requireShell(t)
	src := filepath.Join(t.TempDir(), "source.pptx")
	if err := deck.Save(deck.DataScienceGenAI(), src); err != nil {
		t.Fatalf("deck.Save: %v", err)
	}

	gen := &stubGenerator{output: "```sh\ncp '" + src + "' Data_Science.pptx\n```"}
	app, _ := newTestApp(t, gen, true)

	rec := postPrompt(app, "ten slides about data science")
	body := rec.Body.String()
	if !strings.Contains(body, "PPT generated successfully!") {
		t.Fatalf("missing success message in %s", body)
	}

	runs, _ := database.GetRecentRuns(app.db, 1)
	if len(runs) != 1 {
		t.Fatal("run not recorded")
	}
	run := runs[0]
	if run.Status != database.StatusExecuted || run.ExitCode == nil || *run.ExitCode != 0 {
		t.Fatalf("unexpected run %+v", run)
	}
	if !strings.Contains(body, "/runs/"+run.ID+"/download") {
		t.Error("download link missing")
	}

	dl := get(app, "/runs/"+run.ID+"/download")
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d", dl.Code)
	}
	if ct := dl.Header().Get("Content-Type"); ct != pptxMIME {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := dl.Header().Get("Content-Disposition"); cd != `attachment; filename="Generated_Presentation.pptx"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	want, _ := os.ReadFile(src)
	if !bytes.Equal(dl.Body.Bytes(), want) {
		t.Error("downloaded bytes differ from artifact")
	}

	pv := get(app, "/runs/"+run.ID+"/preview")
	if pv.Code != http.StatusOK {
		t.Fatalf("preview status = %d", pv.Code)
	}
	var p preview.Preview
	if err := json.Unmarshal(pv.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if len(p.Slides) != 10 {
		t.Errorf("preview has %d slides", len(p.Slides))
	}

	var listed []database.RunWithFiles
	if err := json.Unmarshal(get(app, "/api/runs").Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(listed) != 1 || len(listed[0].Files) != 1 || listed[0].Files[0].SlideCount != 10 {
		t.Errorf("unexpected run listing %+v", listed)
	}

	page := get(app, "/?run="+run.ID).Body.String()
	for _, want := range []string{`id="slides"`, "Slides (10)", "2. Introduction to Data Science", "10. Thank You!"} {
		if !strings.Contains(page, want) {
			t.Errorf("run page missing %q", want)
		}
	}
}

func TestIndexShowsSlideThumbnails(t *testing.T) {
	app, cfg := newTestApp(t, &stubGenerator{}, false)

	run := &database.Run{Prompt: "deck", Provider: "stub"}
	if err := database.CreateRun(app.db, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	path := filepath.Join(cfg.Application.Storage.Stage, run.ID, "deck.pptx")
	if err := deck.Save(deck.DataScienceGenAI(), path); err != nil {
		t.Fatalf("deck.Save: %v", err)
	}
	thumbDir := filepath.Join(cfg.Application.Storage.Thumbnails, run.ID, "deck")
	f := &database.PresentationFile{RunID: run.ID, Filename: "deck.pptx", FilePath: path, Checksum: "abc", SlideCount: 2, ThumbnailDir: thumbDir}
	if _, err := database.SavePresentationFile(app.db, f); err != nil {
		t.Fatalf("SavePresentationFile: %v", err)
	}
	slides := []database.Slide{
		{SlideNum: 1, Title: "1. Cover", PNGPath: filepath.Join(thumbDir, "slide-01.png")},
		// Paths outside the thumbnails directory are never linked.
		{SlideNum: 2, Title: "2. Body", PNGPath: filepath.Join(cfg.Application.Storage.Stage, "slide-02.png")},
	}
	if err := database.ReplaceSlides(app.db, f.ID, slides); err != nil {
		t.Fatalf("ReplaceSlides: %v", err)
	}

	body := get(app, "/?run="+run.ID).Body.String()
	if !strings.Contains(body, `src="/thumbnails/`+run.ID+`/deck/slide-01.png"`) {
		t.Errorf("thumbnail link missing in %s", body)
	}
	if strings.Contains(body, "slide-02.png") {
		t.Error("thumbnail outside the thumbnails directory was linked")
	}
	if !strings.Contains(body, "2. Body") {
		t.Error("slide without thumbnail not listed")
	}
}

type panickingGenerator struct{}

func (panickingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	panic("backend exploded")
}

func (panickingGenerator) Name() string { return "panicking" }

func TestGenerateReleasesSlotOnPanic(t *testing.T) {
	app, _ := newTestApp(t, panickingGenerator{}, false)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the generator panic to propagate")
			}
		}()
		postPrompt(app, "slides please")
	}()

	if !app.busy.TryAcquire(1) {
		t.Fatal("generation slot still held after a panic")
	}
	app.busy.Release(1)
}

func TestGenerateReportsScriptFailure(t *testing.T) {
	requireShell(t)
	gen := &stubGenerator{output: "```sh\necho 'ModuleNotFoundError: pptx' >&2\nexit 1\n```"}
	app, _ := newTestApp(t, gen, true)

	body := postPrompt(app, "slides please").Body.String()
	if !strings.Contains(body, "ModuleNotFoundError: pptx") {
		t.Errorf("stderr tail not surfaced in %s", body)
	}
	runs, _ := database.GetRecentRuns(app.db, 1)
	if runs[0].Status != database.StatusFailed || runs[0].ExitCode == nil || *runs[0].ExitCode != 1 {
		t.Errorf("unexpected run %+v", runs[0])
	}
}

func TestDownloadWithoutArtifact(t *testing.T) {
	app, _ := newTestApp(t, &stubGenerator{}, false)

	rec := get(app, "/runs/does-not-exist/download")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Generate a PPT to enable download.") {
		t.Error("missing informational message")
	}

	if rec := get(app, "/runs/does-not-exist/preview"); rec.Code != http.StatusNotFound {
		t.Errorf("preview status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t, &stubGenerator{}, false)
	rec := get(app, "/health")
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "ok" || got["provider"] != "stub" {
		t.Errorf("unexpected health %v", got)
	}
	if got["slides"] != float64(0) || got["log_clients"] != float64(0) {
		t.Errorf("unexpected counters %v", got)
	}
}

func TestLanguageCookie(t *testing.T) {
	app, _ := newTestApp(t, &stubGenerator{}, false)
	rec := get(app, "/?lang=hu")
	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == "lang" && c.Value == "hu" {
			found = true
		}
	}
	if !found {
		t.Error("lang cookie not set")
	}
	if !strings.Contains(rec.Body.String(), `lang="hu"`) {
		t.Error("page not rendered in hungarian")
	}
}
