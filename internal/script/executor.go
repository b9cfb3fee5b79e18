package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gnemet/PromptDeck/internal/config"
)

// TimeoutExitCode is reported when a script is killed for running too long.
const TimeoutExitCode = 124

var (
	ErrScriptTimeout = errors.New("script timed out")
	ErrScriptFailed  = errors.New("script failed")
)

// baseEnv is always passed through from the server environment.
var baseEnv = []string{"PATH", "HOME", "LANG"}

// Executor runs a materialized script with an interpreter.
type Executor struct {
	Interpreter    string
	Timeout        time.Duration
	MaxOutputBytes int
	// Env lists extra variables: NAME copies it from the server environment,
	// NAME=value sets it.
	Env []string
}

func NewExecutor(cfg config.ExecutorConfig) *Executor {
	return &Executor{
		Interpreter:    cfg.Interpreter,
		Timeout:        cfg.Timeout,
		MaxOutputBytes: cfg.MaxOutputBytes,
		Env:            cfg.Env,
	}
}

type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

// Err returns nil for a clean exit.
func (r Result) Err() error {
	switch {
	case r.TimedOut:
		return fmt.Errorf("%w after %s", ErrScriptTimeout, r.Duration.Round(time.Millisecond))
	case r.ExitCode != 0:
		msg := lastLine(r.Stderr)
		if msg == "" {
			return fmt.Errorf("%w with exit code %d", ErrScriptFailed, r.ExitCode)
		}
		return fmt.Errorf("%w with exit code %d: %s", ErrScriptFailed, r.ExitCode, msg)
	default:
		return nil
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// Run executes `<interpreter> <script>` inside the script's directory. The
// script receives no other arguments and only the allow-listed environment.
func (e *Executor) Run(ctx context.Context, scriptPath string) Result {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limit := e.MaxOutputBytes
	if limit <= 0 {
		limit = 64 * 1024
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interpreter := e.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}

	cmd := exec.CommandContext(ctx, interpreter, filepath.Base(scriptPath))
	cmd.Dir = filepath.Dir(scriptPath)
	cmd.Env = e.environ()
	// Grandchildren holding the pipes open must not block Wait forever.
	cmd.WaitDelay = 2 * time.Second

	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{
			ExitCode: -1,
			Stderr:   "Failed to start " + interpreter + ": " + err.Error(),
		}
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	exitCode := 0
	if timedOut {
		exitCode = TimeoutExitCode
	} else if waitErr != nil {
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) && ee.ProcessState != nil && ee.ExitCode() >= 0 {
			exitCode = ee.ExitCode()
		} else {
			exitCode = 1
		}
	}

	return Result{
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		TimedOut:  timedOut,
		Truncated: stdout.truncated || stderr.truncated,
		Duration:  elapsed,
	}
}

func (e *Executor) environ() []string {
	var env []string
	for _, name := range baseEnv {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	for _, kv := range e.Env {
		if strings.Contains(kv, "=") {
			env = append(env, kv)
			continue
		}
		if v, ok := os.LookupEnv(kv); ok {
			env = append(env, kv+"="+v)
		}
	}
	return env
}

// cappedBuffer keeps the first limit bytes and silently drops the rest, so the
// child never sees a failed write.
type cappedBuffer struct {
	limit     int
	buf       []byte
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - len(b.buf)
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string { return string(b.buf) }
