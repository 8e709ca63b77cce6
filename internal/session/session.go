// internal/session/session.go
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartprobe/internal/condition"
	"github.com/xkilldash9x/cartprobe/internal/driver"
	"github.com/xkilldash9x/cartprobe/internal/interact"
	"github.com/xkilldash9x/cartprobe/internal/locator"
	"github.com/xkilldash9x/cartprobe/internal/wait"
)

// Options configures a Session.
type Options struct {
	// PollInterval is the default cadence for every wait in the session.
	PollInterval time.Duration
	// DefaultTimeout is the budget Wait uses when none is given.
	DefaultTimeout time.Duration
	Interact       interact.Config
	// Clock replaces the real clock, mainly for tests.
	Clock wait.Clock
	// ScreenshotDir receives SaveScreenshot output.
	ScreenshotDir string
}

// Session is the explicit handle one flow uses to drive one browser. It owns the
// resolver, the wait engine, the condition library and the interaction executor for
// that browser. A Session is thread-confined: it must only be used from the goroutine
// that created it.
type Session struct {
	id     string
	drv    driver.Driver
	opts   Options
	logger *zap.Logger

	resolver   *locator.Resolver
	engine     *wait.Engine
	conditions *condition.Library
	executor   *interact.Executor
}

// New wires a session around drv.
func New(drv driver.Driver, opts Options, logger *zap.Logger) *Session {
	sessionID := uuid.New().String()
	log := logger.With(zap.String("session_id", sessionID))

	engineOpts := []wait.Option{wait.WithDefaultInterval(opts.PollInterval)}
	if opts.Clock != nil {
		engineOpts = append(engineOpts, wait.WithClock(opts.Clock))
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = interact.DefaultConfig().DefaultTimeout
	}

	resolver := locator.NewResolver(drv, log)
	engine := wait.NewEngine(log, engineOpts...)
	conditions := condition.New(drv, resolver)

	return &Session{
		id:         sessionID,
		drv:        drv,
		opts:       opts,
		logger:     log,
		resolver:   resolver,
		engine:     engine,
		conditions: conditions,
		executor:   interact.New(drv, resolver, conditions, engine, opts.Interact, log),
	}
}

func (s *Session) ID() string                     { return s.id }
func (s *Session) Driver() driver.Driver          { return s.drv }
func (s *Session) Resolver() *locator.Resolver    { return s.resolver }
func (s *Session) Engine() *wait.Engine           { return s.engine }
func (s *Session) Conditions() *condition.Library { return s.conditions }
func (s *Session) Interact() *interact.Executor   { return s.executor }
func (s *Session) Logger() *zap.Logger            { return s.logger }
func (s *Session) DefaultTimeout() time.Duration  { return s.opts.DefaultTimeout }

// Wait runs cond with the session's cadence. A non-positive timeout means the
// session default.
func (s *Session) Wait(ctx context.Context, cond wait.Condition, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.opts.DefaultTimeout
	}
	return s.engine.Wait(ctx, cond, s.engine.Budget(timeout))
}

// WaitAny is Wait for several conditions; it returns the index of the one that held.
func (s *Session) WaitAny(ctx context.Context, timeout time.Duration, conds ...wait.Condition) (int, error) {
	if timeout <= 0 {
		timeout = s.opts.DefaultTimeout
	}
	return s.engine.WaitAny(ctx, s.engine.Budget(timeout), conds...)
}

// Screenshot captures the current viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	png, err := s.drv.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return png, nil
}

// SaveScreenshot writes a screenshot to <ScreenshotDir>/<label>_<millis>.png and
// returns the path.
func (s *Session) SaveScreenshot(ctx context.Context, label string) (string, error) {
	if s.opts.ScreenshotDir == "" {
		return "", fmt.Errorf("no screenshot directory configured")
	}
	png, err := s.Screenshot(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.opts.ScreenshotDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	name := fmt.Sprintf("%s_%d.png", safeLabel(label), s.engine.Clock().Now().UnixMilli())
	path := filepath.Join(s.opts.ScreenshotDir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	s.logger.Info("Screenshot saved.", zap.String("path", path))
	return path, nil
}

func safeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "screenshot"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, label)
}
