package providers

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// legacyAliasKeyword is a vendor extension a tool's inputSchema may carry on
// a property to declare a previous parameter name that should be renamed
// forward transparently. Providers that have renamed a parameter across a
// breaking change publish both the new schema and this extension so old
// callers (and LLM muscle memory) keep working.
const legacyAliasKeyword = "x-legacy-alias"

// deriveCorrectionRules compiles tool's inputSchema and extracts
// x-legacy-alias annotations into a set of {from -> to} rename rules,
// computed once and cached by the registry for the tool's lifetime (§4.2).
func deriveCorrectionRules(t Tool) []CorrectionRule {
	if len(t.InputSchema) == 0 {
		return nil
	}

	// Compile for validation purposes (and to fail closed on malformed
	// schemas); the compiled schema is discarded here because correction
	// rules are derived from the raw document's structure.
	// SchemaConstrainer.Validate compiles tool input schemas afresh on each
	// call, without a cache.
	var schemaDoc any
	if err := json.Unmarshal(t.InputSchema, &schemaDoc); err != nil {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(t.Ident(), schemaDoc); err == nil {
		if _, err := compiler.Compile(t.Ident()); err != nil {
			// Malformed schema: no correction rules can be derived safely.
			return nil
		}
	}

	var doc struct {
		Properties map[string]struct {
			LegacyAlias string `json:"x-legacy-alias"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(t.InputSchema, &doc); err != nil {
		return nil
	}

	var rules []CorrectionRule
	for propName, prop := range doc.Properties {
		if prop.LegacyAlias == "" {
			continue
		}
		rules = append(rules, CorrectionRule{From: prop.LegacyAlias, To: propName})
	}
	return rules
}
