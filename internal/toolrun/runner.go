package toolrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"pcbmill/internal/event"
)

// ExecFunc runs name with args in dir and returns its combined output.
type ExecFunc func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// ExitError reports a converter run that failed to start or exited non-zero.
type ExitError struct {
	Binary string
	Output string
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v", e.Binary, e.Err)
}

func (e *ExitError) Unwrap() error  { return e.Err }
func (e *ExitError) Code() string   { return event.CodeToolFailed }
func (e *ExitError) Detail() string { return e.Output }

// Spec is one converter invocation.
type Spec struct {
	Dir      string
	Args     []string
	Expected []string
}

// Result describes a finished run.
type Result struct {
	Output   string        `json:"output"`
	Produced []string      `json:"produced"`
	Missing  []string      `json:"missing,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Runner executes the converter binary. The zero value is not usable; use
// NewRunner.
type Runner struct {
	globals Globals
	exec    ExecFunc
	log     *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithExec replaces process execution, for tests.
func WithExec(fn ExecFunc) Option {
	return func(r *Runner) { r.exec = fn }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) { r.log = log }
}

func NewRunner(g Globals, opts ...Option) *Runner {
	if strings.TrimSpace(g.Binary) == "" {
		g.Binary = DefaultGlobals().Binary
	}
	r := &Runner{globals: g, exec: execCommand, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Globals returns the settings the runner was built with.
func (r *Runner) Globals() Globals { return r.globals }

// Run executes the converter without a shell and reports which expected
// outputs exist afterwards.
func (r *Runner) Run(ctx context.Context, spec Spec) (Result, error) {
	if r.globals.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.globals.Timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := r.exec(ctx, spec.Dir, r.globals.Binary, spec.Args...)
	res := Result{Output: string(out), Duration: time.Since(start)}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		r.log.Warn("converter failed",
			zap.String("binary", r.globals.Binary),
			zap.Duration("duration", res.Duration),
			zap.Error(err))
		return res, &ExitError{Binary: r.globals.Binary, Output: strings.TrimSpace(res.Output), Err: err}
	}
	for _, name := range spec.Expected {
		if _, err := os.Stat(filepath.Join(spec.Dir, name)); err == nil {
			res.Produced = append(res.Produced, name)
		} else {
			res.Missing = append(res.Missing, name)
		}
	}
	r.log.Info("converter finished",
		zap.String("binary", r.globals.Binary),
		zap.Duration("duration", res.Duration),
		zap.Strings("produced", res.Produced),
		zap.Strings("missing", res.Missing))
	return res, nil
}
