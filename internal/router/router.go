// Package router classifies incoming prompts and dispatches them to
// either the local inference engine or the script-generation delegate.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aide-sh/aide/internal/config"
	"github.com/aide-sh/aide/internal/domain"
	"github.com/aide-sh/aide/internal/infra/engine"
	"github.com/aide-sh/aide/internal/infra/metrics"
	"github.com/aide-sh/aide/internal/infra/state"
)

// scriptRequest matches prompts that open with an imperative creation
// verb and mention a script or program anywhere after it. Everything
// else goes straight to inference.
var scriptRequest = regexp.MustCompile(`(?i)^\s*(write|create|make|generate|build)\b.*\b(script|program)s?\b`)

// Route identifies which backend answered a prompt.
type Route string

const (
	RouteInference  Route = "inference"
	RouteDelegation Route = "delegation"
)

// Router dispatches prompts. Both the user turn and the produced reply
// are appended to the conversation log; the user turn is recorded
// before routing so a failed dispatch still leaves a trace of what was
// asked.
type Router struct {
	Store *state.Store
	Cfg   config.RouterConfig

	// InvokeTimeout bounds one inference call.
	InvokeTimeout time.Duration

	invoke      func(ctx context.Context, enginePath, modelPath, prompt string, opts engine.InvokeOptions) (string, error)
	runDelegate func(ctx context.Context, path, prompt string) (string, error)
	log         *slog.Logger
}

// New returns a Router backed by the given store and config.
func New(st *state.Store, cfg config.RouterConfig) *Router {
	return &Router{
		Store:         st,
		Cfg:           cfg,
		InvokeTimeout: 10 * time.Minute,
		invoke:        engine.Invoke,
		runDelegate:   runDelegate,
		log:           slog.With("component", "router"),
	}
}

// SetInvoke overrides the inference call. Tests only.
func (r *Router) SetInvoke(fn func(ctx context.Context, enginePath, modelPath, prompt string, opts engine.InvokeOptions) (string, error)) {
	r.invoke = fn
}

// SetRunDelegate overrides delegate execution. Tests only.
func (r *Router) SetRunDelegate(fn func(ctx context.Context, path, prompt string) (string, error)) {
	r.runDelegate = fn
}

// Classify reports which route a prompt takes.
func (r *Router) Classify(prompt string) Route {
	if scriptRequest.MatchString(prompt) {
		return RouteDelegation
	}
	return RouteInference
}

// Ask records the prompt, dispatches it, records the reply, and
// returns it along with the route taken.
func (r *Router) Ask(ctx context.Context, prompt string) (string, Route, error) {
	if err := r.Store.AppendConversation(domain.ConversationEntry{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   prompt,
		CreatedAt: time.Now(),
	}); err != nil {
		return "", "", err
	}

	route := r.Classify(prompt)
	metrics.RouterRequests.WithLabelValues(string(route)).Inc()
	r.log.Info("routing prompt", "route", route, "chars", len(prompt))

	var reply string
	var err error
	switch route {
	case RouteDelegation:
		reply, err = r.delegate(ctx, prompt)
	default:
		reply, err = r.infer(ctx, prompt)
	}
	if err != nil {
		return "", route, err
	}

	if err := r.Store.AppendConversation(domain.ConversationEntry{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now(),
	}); err != nil {
		return "", route, err
	}
	return reply, route, nil
}

func (r *Router) delegate(ctx context.Context, prompt string) (string, error) {
	path, err := exec.LookPath(r.Cfg.Delegate)
	if err != nil {
		// No delegate on this host; inference handles the prompt.
		r.log.Warn("delegate unavailable, falling back to inference", "delegate", r.Cfg.Delegate)
		return r.infer(ctx, prompt)
	}

	out, err := r.runDelegate(ctx, path, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDelegateFailed, err)
	}
	return out, nil
}

func (r *Router) infer(ctx context.Context, prompt string) (string, error) {
	enginePath, err := r.Store.EnginePath()
	if err != nil {
		return "", err
	}
	sel, err := r.Store.Model()
	if err != nil {
		return "", err
	}
	if enginePath == "" || sel.Path == "" {
		return "", domain.ErrNotInstalled
	}

	return r.invoke(ctx, enginePath, sel.Path, prompt, engine.InvokeOptions{
		MaxTokens: r.Cfg.MaxTokens,
		Timeout:   r.InvokeTimeout,
	})
}

func runDelegate(ctx context.Context, path, prompt string) (string, error) {
	cmd := exec.CommandContext(ctx, path, prompt)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("delegate exited: %s", strings.TrimSpace(string(ee.Stderr)))
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
