package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"goa.design/taskflow/telemetry"
)

// CorrectionRule renames a legacy parameter alias to the name the tool's
// inputSchema actually declares (§4.2, §4.9 step 4).
type CorrectionRule struct {
	From string
	To   string
}

// Registry is the live inventory of capability providers (§4.2). It caches
// each provider's tool catalog and derived correction rules for its
// lifetime; the cache is rebuilt only by an explicit Refresh.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	// providers mirrors clients but holds the last-observed Ready/Tools
	// snapshot so ListTools/ToolsSummary do not need live round-trips on
	// every call.
	providers map[string]Provider
	rules     map[string][]CorrectionRule // keyed by Tool.Ident()
	logger    telemetry.Logger
}

// NewRegistry constructs an empty Registry. Call Register for each provider
// process, then Refresh to populate the tool catalog.
func NewRegistry(logger telemetry.Logger) *Registry {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Registry{
		clients:   make(map[string]Client),
		providers: make(map[string]Provider),
		rules:     make(map[string][]CorrectionRule),
		logger:    logger,
	}
}

// Register adds or replaces the Client for a named provider. Callers must
// call Refresh afterward to populate its tool catalog.
func (r *Registry) Register(name string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = c
	r.providers[name] = Provider{Name: name}
}

// Unregister removes a provider and its cached catalog/correction rules.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
	delete(r.providers, name)
	for ident := range r.rules {
		if strings.HasPrefix(ident, name+"__") {
			delete(r.rules, ident)
		}
	}
}

// Refresh re-probes every registered provider for readiness and tool
// catalog, recomputing correction rules. It is safe to call concurrently
// with reads; readers see either the pre- or post-refresh snapshot.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.clients))
	clients := make(map[string]Client, len(r.clients))
	for name, c := range r.clients {
		names = append(names, name)
		clients[name] = c
	}
	r.mu.RUnlock()

	providers := make(map[string]Provider, len(names))
	rules := make(map[string][]CorrectionRule)
	for _, name := range names {
		c := clients[name]
		ready := c.Ready(ctx)
		p := Provider{Name: name, Ready: ready}
		if ready {
			tools, err := c.ListTools(ctx)
			if err != nil {
				r.logger.Warn(ctx, "providers: list_tools failed", "provider", name, "error", err.Error())
				p.Ready = false
			} else {
				p.Tools = tools
				for _, t := range tools {
					rules[t.Ident()] = deriveCorrectionRules(t)
				}
			}
		}
		providers[name] = p
	}

	r.mu.Lock()
	r.providers = providers
	r.rules = rules
	r.mu.Unlock()
	return nil
}

// Provider returns the cached snapshot for name, or false if unknown.
func (r *Registry) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Ready reports whether the named provider is currently marked ready. A
// tool is eligible for invocation only when this returns true (§4.2
// invariant).
func (r *Registry) Ready(name string) bool {
	p, ok := r.Provider(name)
	return ok && p.Ready
}

// Client returns the registered Client for name, or nil if unknown.
func (r *Registry) Client(name string) Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[name]
}

// ListTools returns the tools exposed by the given providers (or every
// ready provider if subset is empty), in deterministic (server, name)
// order.
func (r *Registry) ListTools(subset ...string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	if len(subset) == 0 {
		for name, p := range r.providers {
			if p.Ready {
				names = append(names, name)
			}
		}
	} else {
		names = subset
	}
	sort.Strings(names)

	var out []Tool
	for _, name := range names {
		p, ok := r.providers[name]
		if !ok || !p.Ready {
			continue
		}
		out = append(out, p.Tools...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Server != out[j].Server {
			return out[i].Server < out[j].Server
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ToolsSummary renders a compact text block suitable for inclusion in a
// prompt: one line per tool, name plus a truncated description, bounded to
// maxChars overall.
func (r *Registry) ToolsSummary(subset []string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 4000
	}
	var b strings.Builder
	for _, t := range r.ListTools(subset...) {
		desc := t.Description
		const descCap = 120
		if len(desc) > descCap {
			desc = desc[:descCap] + "…"
		}
		line := fmt.Sprintf("- %s: %s\n", t.Ident(), desc)
		if b.Len()+len(line) > maxChars {
			b.WriteString("- … (truncated)\n")
			break
		}
		b.WriteString(line)
	}
	return b.String()
}

// CorrectionRules returns the cached parameter-rename rules for the fully
// qualified tool identifier (§4.2).
func (r *Registry) CorrectionRules(toolIdent string) []CorrectionRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]CorrectionRule(nil), r.rules[toolIdent]...)
}

// ApplyCorrections renames legacy aliases in params per the tool's cached
// correction rules, returning a new map (the input is not mutated).
func (r *Registry) ApplyCorrections(toolIdent string, params map[string]any) map[string]any {
	rules := r.CorrectionRules(toolIdent)
	if len(rules) == 0 {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, rule := range rules {
		if v, ok := out[rule.From]; ok {
			if _, exists := out[rule.To]; !exists {
				out[rule.To] = v
			}
			delete(out, rule.From)
		}
	}
	return out
}
