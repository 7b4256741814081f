// Package schema builds and validates the JSON Schema used to constrain LLM
// tool-call generation (§4.3). A Constrainer is built once per active
// provider-tool subset and cached for reuse across planning attempts for
// the same item.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/taskflow/providers"
)

// Candidate is a parsed tool-call generation response: the shape validated
// against the schema built by this package.
type Candidate struct {
	ToolCalls []providers.ToolCall `json:"tool_calls"`
	Reasoning string               `json:"reasoning,omitempty"`
	// DirectResult is an out-of-schema convenience field ToolPlanner reads
	// for the §4.9 short-circuit; SchemaConstrainer does not require or
	// validate it.
	DirectResult *string `json:"direct_result,omitempty"`
}

// Constrainer builds the JSON Schema document for a fixed subset of active
// tools and validates candidates against it plus the semantic checks in
// §4.3 (enum membership, inputSchema conformance, provider readiness).
type Constrainer struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// New constructs an empty Constrainer.
func New() *Constrainer {
	return &Constrainer{cache: make(map[string]*jsonschema.Schema)}
}

// cacheKey returns a deterministic key for a tool subset so identical
// subsets reuse the same compiled schema regardless of call-site ordering.
func cacheKey(tools []providers.Tool) string {
	idents := make([]string, len(tools))
	for i, t := range tools {
		idents[i] = t.Ident()
	}
	sort.Strings(idents)
	return strings.Join(idents, ",")
}

// Document returns the raw JSON Schema document (§4.3 shape) for the given
// active tools, suitable for use as an LLM response_format.
func Document(tools []providers.Tool) map[string]any {
	servers := make(map[string]struct{})
	idents := make([]string, 0, len(tools))
	for _, t := range tools {
		servers[t.Server] = struct{}{}
		idents = append(idents, t.Ident())
	}
	serverList := make([]string, 0, len(servers))
	for s := range servers {
		serverList = append(serverList, s)
	}
	sort.Strings(serverList)
	sort.Strings(idents)

	return map[string]any{
		"type":     "object",
		"required": []string{"tool_calls"},
		"properties": map[string]any{
			"tool_calls": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"server", "tool", "parameters"},
					"properties": map[string]any{
						"server":     map[string]any{"enum": serverList},
						"tool":       map[string]any{"enum": idents},
						"parameters": map[string]any{"type": "object"},
					},
				},
			},
			"reasoning": map[string]any{"type": "string"},
		},
	}
}

// Compile returns the compiled jsonschema.Schema for tools, reusing a
// cached compilation when the subset (by tool identifier set) has been seen
// before.
func (c *Constrainer) Compile(tools []providers.Tool) (*jsonschema.Schema, error) {
	key := cacheKey(tools)

	c.mu.Lock()
	if s, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	doc := Document(tools)
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal document: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return nil, fmt.Errorf("schema: unmarshal document: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	resourceID := "mem://tool-calls/" + key
	if err := compiler.AddResource(resourceID, schemaDoc); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}

	c.mu.Lock()
	c.cache[key] = compiled
	c.mu.Unlock()
	return compiled, nil
}

// ValidationError describes a single validation failure, either from the
// top-level schema or from a tool's own inputSchema.
type ValidationError struct {
	ToolCallIndex int
	Message       string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("tool_calls[%d]: %s", e.ToolCallIndex, e.Message)
}

// Validate checks raw (the LLM's raw JSON response) against the compiled
// top-level schema, then validates each tool-call's parameters against its
// own inputSchema. It does not check provider readiness; ValidateReadiness
// does that separately. It
// returns the parsed Candidate plus any validation errors found; candidate
// is still returned on error so a self-correction prompt can reference it.
func (c *Constrainer) Validate(tools []providers.Tool, raw []byte) (Candidate, []ValidationError) {
	var errsOut []ValidationError

	var candidate Candidate
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return candidate, []ValidationError{{Message: "response is not valid JSON: " + err.Error()}}
	}

	compiled, err := c.Compile(tools)
	if err != nil {
		return candidate, []ValidationError{{Message: "internal: " + err.Error()}}
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err == nil {
		if err := compiled.Validate(generic); err != nil {
			errsOut = append(errsOut, ValidationError{Message: err.Error()})
		}
	}

	byIdent := make(map[string]providers.Tool, len(tools))
	for _, t := range tools {
		byIdent[t.Ident()] = t
	}

	toolCompiler := jsonschema.NewCompiler()
	for i, call := range candidate.ToolCalls {
		tool, ok := byIdent[call.Ident()]
		if !ok {
			errsOut = append(errsOut, ValidationError{ToolCallIndex: i, Message: fmt.Sprintf("unknown tool %q", call.Ident())})
			continue
		}
		if len(tool.InputSchema) == 0 {
			continue
		}
		resourceID := "mem://tool-input/" + tool.Ident()
		var toolSchemaDoc any
		if err := json.Unmarshal(tool.InputSchema, &toolSchemaDoc); err != nil {
			errsOut = append(errsOut, ValidationError{ToolCallIndex: i, Message: "tool schema is malformed: " + err.Error()})
			continue
		}
		if err := toolCompiler.AddResource(resourceID, toolSchemaDoc); err != nil {
			continue
		}
		compiledTool, err := toolCompiler.Compile(resourceID)
		if err != nil {
			errsOut = append(errsOut, ValidationError{ToolCallIndex: i, Message: "tool schema does not compile: " + err.Error()})
			continue
		}
		paramsRaw, err := json.Marshal(call.Parameters)
		if err != nil {
			continue
		}
		var paramsAny any
		if err := json.Unmarshal(paramsRaw, &paramsAny); err != nil {
			continue
		}
		if err := compiledTool.Validate(paramsAny); err != nil {
			errsOut = append(errsOut, ValidationError{ToolCallIndex: i, Message: err.Error()})
		}
	}

	return candidate, errsOut
}

// ValidateReadiness appends a ValidationError for every tool-call whose
// provider is not ready, per the reg.Ready callback supplied by the caller
// (kept decoupled from the providers.Registry type to avoid an import
// cycle and to ease testing with fakes).
func ValidateReadiness(candidate Candidate, ready func(server string) bool) []ValidationError {
	var out []ValidationError
	for i, call := range candidate.ToolCalls {
		if !ready(call.Server) {
			out = append(out, ValidationError{ToolCallIndex: i, Message: fmt.Sprintf("provider %q is not ready", call.Server)})
		}
	}
	return out
}
