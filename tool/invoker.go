package tool

import (
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
)

const (
	healthCacheSize = 1024
	healthCacheTTL  = 30 * time.Second
)

// InvokerOptions configure the Invoker.
type InvokerOptions struct {
	Logger      logging.Logger
	Credentials CredentialResolver
	// HealthTTL bounds how long a passed probe is trusted within one task.
	HealthTTL time.Duration
}

// Invoker executes tool calls with a per-task health gate. Before the first
// invocation of a tool in a task it runs the tool's liveness probe; the probe
// result is cached per task and tool so repeated calls within the TTL skip it.
// An unhealthy probe yields a tool_unavailable error surfaced to the model as
// an ordinary tool failure; it never fails the task.
type Invoker struct {
	health      *expirable.LRU[string, Health]
	credentials CredentialResolver
	logger      logging.Logger
}

// NewInvoker constructs an Invoker.
func NewInvoker(optFns ...func(o *InvokerOptions)) *Invoker {
	opts := InvokerOptions{
		Logger:    logging.NoOpLogger{},
		HealthTTL: healthCacheTTL,
	}
	for _, f := range optFns {
		f(&opts)
	}
	return &Invoker{
		health:      expirable.NewLRU[string, Health](healthCacheSize, nil, opts.HealthTTL),
		credentials: opts.Credentials,
		logger:      opts.Logger,
	}
}

// Invoke runs one tool call end to end: health gate, credential resolution for
// scoped tools, then the call itself. It performs no internal retry; a failed
// call is reported once and the model decides what to do next.
func (inv *Invoker) Invoke(tc *Context, t Tool, rawArgs string) (any, error) {
	if err := inv.ensureHealthy(tc, t); err != nil {
		return nil, err
	}

	if scoped, ok := t.(CredentialScoped); ok && scoped.CredentialScope() != "" {
		if err := inv.resolveCredential(tc, t.Name(), scoped.CredentialScope()); err != nil {
			return nil, err
		}
	}

	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return nil, &Error{
				Tool:    t.Name(),
				Message: "arguments are not valid JSON: " + err.Error(),
				Code:    "VALIDATION_ERROR",
			}
		}
	}

	return t.Call(tc, args)
}

// ensureHealthy runs the probe unless a fresh same-task result is cached.
func (inv *Invoker) ensureHealthy(tc *Context, t Tool) error {
	checker, ok := t.(HealthChecker)
	if !ok {
		return nil
	}

	key := tc.TaskID() + "/" + t.Name()
	if cached, ok := inv.health.Get(key); ok {
		if cached.Healthy() {
			return nil
		}
		return inv.unavailable(t.Name(), cached.Reason)
	}

	if err := checker.CheckHealth(tc); err != nil {
		inv.health.Add(key, Health{Status: HealthUnhealthy, CheckedAt: time.Now(), Reason: err.Error()})
		inv.logger.Warn("tool.health.failed", "tool", t.Name(), "task_id", tc.TaskID(), "error", err.Error())
		return inv.unavailable(t.Name(), err.Error())
	}

	inv.health.Add(key, Health{Status: HealthHealthy, CheckedAt: time.Now()})
	inv.logger.Debug("tool.health.ok", "tool", t.Name(), "task_id", tc.TaskID())
	return nil
}

func (inv *Invoker) unavailable(name, reason string) error {
	return &Error{
		Tool:    name,
		Message: "tool is unavailable: " + reason,
		Code:    string(core.CodeToolUnavailable),
	}
}

func (inv *Invoker) resolveCredential(tc *Context, name, scope string) error {
	if inv.credentials == nil {
		return &Error{
			Tool:    name,
			Message: "tool requires credential scope " + scope + " but no resolver is configured",
			Code:    string(core.CodeToolUnavailable),
		}
	}
	cred, err := inv.credentials.Resolve(tc, scope)
	if err != nil {
		return &Error{
			Tool:    name,
			Message: "credential resolution failed for scope " + scope + ": " + err.Error(),
			Code:    string(core.CodeToolUnavailable),
		}
	}
	tc.credential = cred
	return nil
}
