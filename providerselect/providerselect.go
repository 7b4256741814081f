// Package providerselect implements the ProviderSelector (§4.8): choosing
// one or two capability providers for an item and picking a specialized
// planning template for it.
package providerselect

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"goa.design/taskflow/llm"
	"goa.design/taskflow/providers"
)

// Template names the specialized planning template ToolPlanner should use
// to assemble its prompt. The prompt texts themselves are opaque beyond
// their placeholders; only the name is core state.
type Template string

const (
	TemplateFilesystem Template = "filesystem"
	TemplateShell       Template = "shell"
	TemplateBrowser     Template = "browser"
	TemplateDefault     Template = "default"
)

// Selection is the ProviderSelector's output for one item.
type Selection struct {
	Servers    []string
	Template   Template
	Confidence float64
}

// PreFilter is a router-supplied hint naming providers to use directly,
// bypassing LLM classification (§4.8 policy 1).
type PreFilter struct {
	Servers []string
}

// classification is the LLM's raw response shape (§4.8 policy 2).
type classification struct {
	SelectedServers []string `json:"selected_servers"`
	SelectedPrompts []string `json:"selected_prompts"`
	Confidence      float64  `json:"confidence"`
}

const classifyPrompt = `Given the item action below and the list of ready capability providers, choose one or two providers best suited to accomplish it and name a planning template for it. Respond with a single JSON object: {"selected_servers": ["..."], "selected_prompts": ["..."], "confidence": 0.0-1.0}.`

// Selector chooses providers and a template for each item.
type Selector struct {
	client llm.Client
	model  string
}

// New builds a Selector using client for classification calls when no
// router pre-filter is available.
func New(client llm.Client, model string) *Selector {
	return &Selector{client: client, model: model}
}

// readyProvider is the minimal shape the selector needs from the registry:
// a provider name and how many tools it exposes.
type readyProvider struct {
	Name      string
	ToolCount int
}

// readyFromRegistry collects the currently-ready providers from reg as
// readyProvider values.
func readyFromRegistry(reg *providers.Registry, names []string) []readyProvider {
	out := make([]readyProvider, 0, len(names))
	for _, name := range names {
		if !reg.Ready(name) {
			continue
		}
		p, ok := reg.Provider(name)
		if !ok {
			continue
		}
		out = append(out, readyProvider{Name: name, ToolCount: len(p.Tools)})
	}
	return out
}

// allReadyNames returns the names of the ready providers in reg that expose
// at least one tool; it is built from ListTools, so a ready provider with an
// empty catalog is not included.
func allReadyNames(reg *providers.Registry) []string {
	var out []string
	for _, t := range reg.ListTools() {
		found := false
		for _, n := range out {
			if n == t.Server {
				found = true
				break
			}
		}
		if !found {
			out = append(out, t.Server)
		}
	}
	return out
}

// Select runs the §4.8 policy for item action against reg: a router
// pre-filter naming ready providers wins outright; otherwise an LLM
// classification is issued and filtered down to ready providers, falling
// back to "all ready providers" if none of the classified names survive.
func (s *Selector) Select(ctx context.Context, action string, reg *providers.Registry, pre *PreFilter) (Selection, error) {
	if pre != nil {
		filtered := filterReady(pre.Servers, reg)
		if len(filtered) > 0 {
			return Selection{Servers: filtered, Template: fallbackTemplate(action), Confidence: 1.0}, nil
		}
	}

	candidates := allReadyNames(reg)
	resp, err := s.client.Complete(ctx, llm.Request{
		Model: s.model,
		Messages: []llm.Message{
			{Role: "system", Content: classifyPrompt},
			{Role: "user", Content: action + "\n\nReady providers: " + strings.Join(candidates, ", ")},
		},
		Temperature: 0,
		MaxTokens:   300,
	})
	if err != nil {
		return Selection{}, err
	}

	raw := llm.Sanitize(resp.Content)
	var c classification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		if obj, ok := llm.ExtractJSONObject(raw); ok {
			_ = json.Unmarshal([]byte(obj), &c)
		}
	}

	servers := filterReady(c.SelectedServers, reg)
	if len(servers) == 0 {
		servers = candidates
	}
	if len(servers) > 2 {
		servers = servers[:2]
	}

	return Selection{
		Servers:    servers,
		Template:   fallbackTemplate(action),
		Confidence: c.Confidence,
	}, nil
}

func filterReady(names []string, reg *providers.Registry) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if reg.Ready(n) {
			out = append(out, n)
		}
	}
	return out
}

var (
	filesystemVerbs = regexp.MustCompile(`(?i)\b(read|write|create|delete|move|copy|list|open)\b.*\b(file|directory|folder|path)\b`)
	shellVerbs      = regexp.MustCompile(`(?i)\b(run|execute)\b`)
	webVerbs        = regexp.MustCompile(`(?i)\b(navigate|browse|click|open)\b.*\b(url|website|page|browser|site)\b`)
)

// fallbackTemplate is the §4.8 rule-based template selector. It is "keep
// action-specific" by default: this function only ever returns one of the
// fixed templates and never the original free-form action text, since the
// templates themselves are opaque prompt assets selected by name.
func fallbackTemplate(action string) Template {
	switch {
	case filesystemVerbs.MatchString(action):
		return TemplateFilesystem
	case shellVerbs.MatchString(action):
		return TemplateShell
	case webVerbs.MatchString(action):
		return TemplateBrowser
	default:
		return TemplateDefault
	}
}
