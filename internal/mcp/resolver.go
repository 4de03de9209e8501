// Package mcp implements the MCP Resolver (C7): computing the effective
// list of Model-Context-Protocol servers for a session (isolated vs.
// hierarchical, spec.md §4.7) and rendering their templated secret fields.
//
// Selection is split deliberately from template rendering. Select runs
// daemon-side, against the Entity Store, and never touches secret values.
// ResolveTemplates runs executor-side, against the executor subprocess's
// own environment, so a resolved auth token never passes through the
// daemon or gets persisted in the Message store (spec.md §4.7 "Secret
// handling").
package mcp

import (
	"context"
	"regexp"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/portutil"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// Store is the subset of internal/store.Store the Resolver's selection
// pass needs. Defined here, not imported from store, so this package stays
// a leaf the executor can also depend on without pulling in the Entity
// Store's persistence machinery.
type Store interface {
	ListMCPAssignmentsForSession(ctx context.Context, sessionID string) ([]v1.SessionMCPAssignment, error)
	ListMCPServersByOwner(ctx context.Context, ownerID string) ([]*v1.MCPServer, error)
	GetMCPServer(ctx context.Context, id string) (*v1.MCPServer, error)
}

const (
	sourceIsolated     = "isolated"
	sourceHierarchical = "hierarchical"
)

// Select returns the ordered (server, source) pairs for a session per
// spec.md §4.7's rule: isolated mode when the session has at least one
// enabled session-scoped assignment, hierarchical mode otherwise.
func Select(ctx context.Context, st Store, session *v1.Session) ([]v1.ResolvedMCPServer, error) {
	assignments, err := st.ListMCPAssignmentsForSession(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	var enabled []v1.SessionMCPAssignment
	for _, a := range assignments {
		if a.Enabled {
			enabled = append(enabled, a)
		}
	}

	if len(enabled) > 0 {
		out := make([]v1.ResolvedMCPServer, 0, len(enabled))
		for _, a := range enabled {
			srv, err := st.GetMCPServer(ctx, a.MCPServerID)
			if err != nil {
				if apperr.Is(err, apperr.NotFound) {
					continue
				}
				return nil, err
			}
			out = append(out, v1.ResolvedMCPServer{Server: *srv, Source: sourceIsolated})
		}
		return out, nil
	}

	servers, err := st.ListMCPServersByOwner(ctx, session.OwnerID)
	if err != nil {
		return nil, err
	}
	out := make([]v1.ResolvedMCPServer, 0, len(servers))
	for _, srv := range servers {
		if srv.Scope != v1.MCPScopeGlobal || !srv.Enabled {
			continue
		}
		if srv.OwnerID == nil || *srv.OwnerID != session.OwnerID {
			continue
		}
		out = append(out, v1.ResolvedMCPServer{Server: *srv, Source: sourceHierarchical})
	}
	return out, nil
}

// templatePattern matches `{{ user.env.KEY }}` placeholders, tolerating
// the whitespace variance real templates have in the wild.
var templatePattern = regexp.MustCompile(`\{\{\s*user\.env\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// ResolveTemplates renders every templated string field of each selected
// server against env (the executor subprocess's own environment,
// pre-filtered by the caller to the AGOR_USER_ENV_KEYS allow-list). A
// server with a required field (command, url, auth_token) that fails to
// resolve is marked Invalid and omitted from use, with a warning reason
// rather than failing the whole Task (spec.md §4.7, §7 "MCP server
// resolution failures are warnings"). A missing optional field (one env
// entry) just drops that one entry.
func ResolveTemplates(servers []v1.ResolvedMCPServer, env map[string]string) []v1.ResolvedMCPServer {
	out := make([]v1.ResolvedMCPServer, 0, len(servers))
	for _, rs := range servers {
		srv := rs.Server

		var missingRequired string
		render := func(s string) string {
			return templatePattern.ReplaceAllStringFunc(s, func(m string) string {
				sub := templatePattern.FindStringSubmatch(m)
				key := sub[1]
				v, ok := env[key]
				if !ok {
					missingRequired = key
					return ""
				}
				return v
			})
		}

		srv.Command = render(srv.Command)
		srv.URL = render(srv.URL)
		srv.AuthToken = render(srv.AuthToken)

		// A locally-spawned MCP server's launch command may reference
		// $PORT/${PORT} so two sessions can run the same stdio server
		// concurrently without colliding; allocate one port per unique
		// placeholder and fold it into the server's own env.
		if srv.Command != "" {
			if transformed, portEnv, err := portutil.TransformCommand(srv.Command); err == nil && len(portEnv) > 0 {
				srv.Command = transformed
				if srv.Env == nil {
					srv.Env = make(map[string]string, len(portEnv))
				}
				for k, v := range portEnv {
					srv.Env[k] = v
				}
			}
		}

		if missingRequired != "" && (srv.Command != "" || srv.URL != "" || srv.AuthToken != "") {
			rs.Server = srv
			rs.Invalid = true
			rs.InvalidReason = "required template field references unset env key " + missingRequired
			out = append(out, rs)
			continue
		}

		renderedEnv := make(map[string]string, len(srv.Env))
		for k, v := range srv.Env {
			var dropped bool
			rendered := templatePattern.ReplaceAllStringFunc(v, func(m string) string {
				sub := templatePattern.FindStringSubmatch(m)
				key := sub[1]
				val, ok := env[key]
				if !ok {
					dropped = true
					return ""
				}
				return val
			})
			if dropped {
				// A missing optional template drops just this one env entry.
				continue
			}
			renderedEnv[k] = rendered
		}
		srv.Env = renderedEnv

		rs.Server = srv
		out = append(out, rs)
	}
	return out
}

// FilterEnv returns the subset of the executor process's environment whose
// keys appear in allowList, the AGOR_USER_ENV_KEYS allow-list (spec.md
// §4.7's "allow-listed subset named in the AGOR_USER_ENV_KEYS variable").
func FilterEnv(environ []string, allowList []string) map[string]string {
	allowed := make(map[string]bool, len(allowList))
	for _, k := range allowList {
		allowed[k] = true
	}
	out := make(map[string]string)
	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				key := kv[:i]
				if allowed[key] {
					out[key] = kv[i+1:]
				}
				break
			}
		}
	}
	return out
}
