package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/sync/semaphore"

	"github.com/gnemet/PromptDeck/internal/config"
	"github.com/gnemet/PromptDeck/internal/database"
	"github.com/gnemet/PromptDeck/internal/generation"
	"github.com/gnemet/PromptDeck/internal/i18n"
	"github.com/gnemet/PromptDeck/internal/observer"
	"github.com/gnemet/PromptDeck/internal/preview"
	"github.com/gnemet/PromptDeck/internal/script"
	"github.com/gnemet/PromptDeck/ui"
)

const pptxMIME = "application/vnd.openxmlformats-officedocument.presentationml.presentation"

const recentRunLimit = 20

// Message kinds rendered by the page.
const (
	KindSuccess = "success"
	KindWarning = "warning"
	KindError   = "error"
	KindInfo    = "info"
)

type Message struct {
	Kind string
	Text string
}

type PageData struct {
	Lang     string
	Langs    []string
	Prompt   string
	Messages []Message
	Run      *database.Run
	Artifact *database.PresentationFile
	Slides   []SlideView
	Runs     []database.Run
}

// SlideView is one stored slide of the shown artifact.
type SlideView struct {
	Title     string
	Thumbnail string // URL, empty without thumbnails
}

// App carries the dependencies shared by the HTTP handlers.
type App struct {
	cfg  *config.Config
	db   *sql.DB
	gen  generation.Generator
	exec *script.Executor
	obs  *observer.Observer
	hub  *LogHub
	tmpl *template.Template
	// busy allows one generation at a time.
	busy *semaphore.Weighted
}

func NewApp(cfg *config.Config, db *sql.DB, gen generation.Generator, exec *script.Executor, obs *observer.Observer, hub *LogHub) (*App, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"T": i18n.T,
	}).ParseFS(ui.Templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &App{
		cfg:  cfg,
		db:   db,
		gen:  gen,
		exec: exec,
		obs:  obs,
		hub:  hub,
		tmpl: tmpl,
		busy: semaphore.NewWeighted(1),
	}, nil
}

func (a *App) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", a.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/generate", a.handleGenerate).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/download", a.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/preview", a.handlePreview).Methods(http.MethodGet)
	r.HandleFunc("/api/runs", a.handleRuns).Methods(http.MethodGet)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	if a.hub != nil {
		r.Handle("/ws/logs", a.hub)
	}

	thumbs := http.StripPrefix("/thumbnails/", http.FileServer(http.Dir(a.cfg.Application.Storage.Thumbnails)))
	r.PathPrefix("/thumbnails/").Handler(thumbs)

	return r
}

// baseData resolves the page language, remembering an explicit ?lang= choice.
func (a *App) baseData(w http.ResponseWriter, r *http.Request) *PageData {
	lang := i18n.GetLang(r)
	if r.URL.Query().Get("lang") == lang {
		http.SetCookie(w, &http.Cookie{Name: "lang", Value: lang, Path: "/", HttpOnly: true})
	}
	data := &PageData{Lang: lang, Langs: i18n.GetAvailableLangs()}

	runs, err := database.GetRecentRuns(a.db, recentRunLimit)
	if err != nil {
		slog.Error("App.baseData: loading recent runs", "error", err)
	}
	data.Runs = runs
	return data
}

func (a *App) render(w http.ResponseWriter, status int, name string, data *PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := a.tmpl.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("App.render: executing template", "template", name, "error", err)
	}
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := a.baseData(w, r)
	if id := r.URL.Query().Get("run"); id != "" {
		a.attachRun(data, id)
	}
	a.render(w, http.StatusOK, "index.html", data)
}

func (a *App) attachRun(data *PageData, id string) {
	run, err := database.GetRun(a.db, id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("App.attachRun: loading run", "run", id, "error", err)
		}
		return
	}
	data.Run = run
	f, err := database.GetLatestFileByRun(a.db, id)
	if err != nil || !fileExists(f.FilePath) {
		return
	}
	data.Artifact = f

	slides, err := database.GetSlidesByFile(a.db, f.ID)
	if err != nil {
		slog.Error("App.attachRun: loading slides", "run", id, "error", err)
		return
	}
	for _, s := range slides {
		data.Slides = append(data.Slides, SlideView{Title: s.Title, Thumbnail: a.thumbnailURL(s.PNGPath)})
	}
}

// thumbnailURL maps a PNG under the thumbnails directory to its /thumbnails/ URL.
func (a *App) thumbnailURL(png string) string {
	if png == "" {
		return ""
	}
	root, err := filepath.Abs(a.cfg.Application.Storage.Thumbnails)
	if err != nil {
		return ""
	}
	abs, err := filepath.Abs(png)
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return "/thumbnails/" + filepath.ToSlash(rel)
}

func (a *App) handleGenerate(w http.ResponseWriter, r *http.Request) {
	data := a.baseData(w, r)
	prompt := r.FormValue("prompt")
	data.Prompt = prompt

	if strings.TrimSpace(prompt) == "" {
		data.Messages = append(data.Messages, Message{KindWarning, i18n.T(data.Lang, "msg_empty_prompt")})
		a.render(w, http.StatusOK, "index.html", data)
		return
	}

	if !a.busy.TryAcquire(1) {
		data.Messages = append(data.Messages, Message{KindWarning, i18n.T(data.Lang, "msg_busy")})
		a.render(w, http.StatusOK, "index.html", data)
		return
	}
	defer a.busy.Release(1)
	run, msgs := a.runPipeline(r.Context(), data.Lang, prompt)

	data.Messages = append(data.Messages, msgs...)
	if run != nil {
		a.attachRun(data, run.ID)
		if runs, err := database.GetRecentRuns(a.db, recentRunLimit); err == nil {
			data.Runs = runs
		}
	}
	a.render(w, http.StatusOK, "index.html", data)
}

// runPipeline generates, materializes and executes one program. Every failure
// ends the run with status failed and a user-facing message.
func (a *App) runPipeline(ctx context.Context, lang, prompt string) (*database.Run, []Message) {
	var msgs []Message

	run := &database.Run{Prompt: prompt, Provider: a.gen.Name()}
	if err := database.CreateRun(a.db, run); err != nil {
		slog.Error("App.runPipeline: creating run", "error", err)
		return nil, []Message{{KindError, i18n.Tf(lang, "msg_error_prefix", err.Error())}}
	}
	log := slog.With("run", run.ID)

	fail := func(text string, err error) (*database.Run, []Message) {
		run.Status = database.StatusFailed
		run.Message = err.Error()
		if ferr := database.FinishRun(a.db, run); ferr != nil {
			log.Error("App.runPipeline: finishing run", "error", ferr)
		}
		return run, append(msgs, Message{KindError, text})
	}

	output, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		log.Warn("App.runPipeline: generation failed", "provider", a.gen.Name(), "error", err)
		var statusErr *generation.StatusError
		if errors.As(err, &statusErr) {
			return fail(i18n.T(lang, "msg_generation_failed"), err)
		}
		return fail(i18n.Tf(lang, "msg_error_prefix", err.Error()), err)
	}
	if err := database.UpdateRunStatus(a.db, run.ID, database.StatusGenerated, ""); err != nil {
		log.Error("App.runPipeline: updating status", "error", err)
	}

	code := script.ExtractCode(output, a.cfg.Webhook.Language)
	runDir := filepath.Join(a.cfg.Application.Storage.Stage, run.ID)
	path, err := script.Materialize(runDir, a.cfg.Application.ScriptName, code)
	if err != nil {
		log.Error("App.runPipeline: materializing script", "error", err)
		return fail(i18n.Tf(lang, "msg_error_prefix", err.Error()), err)
	}
	run.ScriptPath = path
	if err := database.UpdateRunStatus(a.db, run.ID, database.StatusMaterialized, path); err != nil {
		log.Error("App.runPipeline: updating status", "error", err)
	}
	msgs = append(msgs, Message{KindSuccess, i18n.T(lang, "msg_code_received")})

	if !a.cfg.Executor.Enabled {
		run.Status = database.StatusMaterialized
		if err := database.FinishRun(a.db, run); err != nil {
			log.Error("App.runPipeline: finishing run", "error", err)
		}
		return run, append(msgs, Message{KindInfo, i18n.T(lang, "msg_materialized")})
	}

	res := a.exec.Run(ctx, path)
	run.ExitCode = &res.ExitCode
	run.Stdout = res.Stdout
	run.Stderr = res.Stderr
	log.Info("App.runPipeline: script finished", "exit_code", res.ExitCode, "duration", res.Duration, "timed_out", res.TimedOut)

	if a.obs != nil {
		a.obs.Scan(runDir)
	}

	if err := res.Err(); err != nil {
		return fail(i18n.Tf(lang, "msg_error_prefix", err.Error()), err)
	}

	run.Status = database.StatusExecuted
	if err := database.FinishRun(a.db, run); err != nil {
		log.Error("App.runPipeline: finishing run", "error", err)
	}
	return run, append(msgs, Message{KindSuccess, i18n.T(lang, "msg_generated")})
}

// artifact returns the newest registered file of the run that still exists.
func (a *App) artifact(id string) (*database.PresentationFile, bool) {
	f, err := database.GetLatestFileByRun(a.db, id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("App.artifact: lookup failed", "run", id, "error", err)
		}
		return nil, false
	}
	if !fileExists(f.FilePath) {
		slog.Info("App.artifact: registered file is gone", "run", id, "path", f.FilePath)
		return nil, false
	}
	return f, true
}

func (a *App) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f, ok := a.artifact(id)
	if !ok {
		data := &PageData{Lang: i18n.GetLang(r)}
		data.Messages = []Message{{KindInfo, i18n.T(data.Lang, "msg_no_artifact")}}
		a.render(w, http.StatusNotFound, "message.html", data)
		return
	}

	file, err := os.Open(f.FilePath)
	if err != nil {
		http.Error(w, "failed to open presentation", http.StatusInternalServerError)
		return
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		http.Error(w, "failed to stat presentation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", pptxMIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.cfg.Application.DownloadName))
	http.ServeContent(w, r, a.cfg.Application.DownloadName, stat.ModTime(), file)
}

func (a *App) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f, ok := a.artifact(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": i18n.T(i18n.GetLang(r), "msg_no_artifact")})
		return
	}
	p, err := preview.Build(f.FilePath, a.cfg.Application.DownloadName)
	if err != nil {
		slog.Error("App.handlePreview: building preview", "run", id, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *App) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := database.GetRecentRunsWithFiles(a.db, recentRunLimit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []database.RunWithFiles{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":   "ok",
		"provider": a.gen.Name(),
	}
	if a.obs != nil {
		status["processing"] = a.obs.IsProcessing()
	}
	if a.hub != nil {
		status["log_clients"] = a.hub.Clients()
	}
	if err := a.db.PingContext(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
	} else if n, err := database.GetTotalSlideCount(a.db); err == nil {
		status["slides"] = n
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON: encoding response", "error", err)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
