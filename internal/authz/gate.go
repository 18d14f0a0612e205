// Package authz decides whether the caller may act on a device, using an
// OPA Rego policy evaluated in process.
package authz

import (
	"context"
	"fmt"
	"os"

	"opsplane/internal/auth"
	"opsplane/internal/store"

	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.opsplane.authz.allow"

// DefaultPolicy grants tenant admins everything, lets a device act on its own
// enrollment, and lets an owner act on their devices when granted the permission.
const DefaultPolicy = `package opsplane.authz

default allow := false

allow if {
	input.principal.roles[_] == "admin"
}

allow if {
	input.principal.device.type == input.enrollment.device.type
	input.principal.device.id == input.enrollment.device.id
}

allow if {
	input.principal.username != ""
	input.principal.username == input.enrollment.owner
	input.principal.permissions[_] == input.permission
}
`

// Gate evaluates a prepared policy per device.
type Gate struct {
	query rego.PreparedEvalQuery
}

// NewGate compiles policy. The policy must define data.opsplane.authz.allow.
func NewGate(ctx context.Context, policy string) (*Gate, error) {
	query, err := rego.New(
		rego.Query(policyQuery),
		rego.Module("authz.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile authorization policy: %w", err)
	}
	return &Gate{query: query}, nil
}

// LoadGate compiles the policy at path, or DefaultPolicy when path is empty.
func LoadGate(ctx context.Context, path string) (*Gate, error) {
	if path == "" {
		return NewGate(ctx, DefaultPolicy)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewGate(ctx, string(raw))
}

// IsAuthorized reports whether the caller in ctx holds permission on the
// enrolled device. A context without a caller is never authorized.
func (g *Gate) IsAuthorized(ctx context.Context, enrollment *store.Enrollment, permission string) (bool, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return false, nil
	}
	if p.TenantID != enrollment.TenantID {
		return false, nil
	}

	rs, err := g.query.Eval(ctx, rego.EvalInput(buildInput(p, enrollment, permission)))
	if err != nil {
		return false, fmt.Errorf("policy evaluation failed: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("policy query returned no result")
	}

	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return allowed, nil
}

func buildInput(p *auth.Principal, enrollment *store.Enrollment, permission string) map[string]interface{} {
	principal := map[string]interface{}{
		"username":    p.Username,
		"roles":       anySlice(p.Roles),
		"permissions": anySlice(p.Permissions),
	}
	if p.Device != nil {
		principal["device"] = map[string]interface{}{
			"type": p.Device.Type,
			"id":   p.Device.ID,
		}
	}

	return map[string]interface{}{
		"permission": permission,
		"principal":  principal,
		"enrollment": map[string]interface{}{
			"owner":  enrollment.Owner,
			"status": string(enrollment.Status),
			"device": map[string]interface{}{
				"type": enrollment.Device.Type,
				"id":   enrollment.Device.ID,
			},
		},
	}
}

func anySlice(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
