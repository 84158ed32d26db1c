package tool

import (
	"github.com/taskmesh/taskmesh/core"
)

// Credential is a resolved secret handed to a scoped tool for a single call.
// Tools must not retain it beyond the call.
type Credential struct {
	Scope string
	Token string
}

// CredentialResolver resolves a credential for a scope on behalf of an agent.
// Resolution failures are surfaced to the model as tool errors, not task
// failures.
type CredentialResolver interface {
	Resolve(tc *Context, scope string) (*Credential, error)
}

// StaticCredentialResolver serves credentials from a fixed scope-to-token map.
type StaticCredentialResolver struct {
	tokens map[string]string
}

// NewStaticCredentialResolver builds a resolver over the given scope map.
func NewStaticCredentialResolver(tokens map[string]string) *StaticCredentialResolver {
	return &StaticCredentialResolver{tokens: tokens}
}

// Resolve implements CredentialResolver.
func (r *StaticCredentialResolver) Resolve(tc *Context, scope string) (*Credential, error) {
	token, ok := r.tokens[scope]
	if !ok {
		return nil, core.Errorf(core.CodeToolUnavailable, "no credential configured for scope %q", scope)
	}
	return &Credential{Scope: scope, Token: token}, nil
}
