package toolplan

import "strings"

// templates maps each providerselect.Template name to its opaque prompt
// body. Bodies carry the §4.9 placeholders substituted at assembly time;
// their wording is not core state, only the placeholder contract is.
var templates = map[string]string{
	"filesystem": `You plan filesystem operations. Given the action below, produce the tool calls needed.
Action: {{ACTION}}
Success criteria: {{SUCCESS_CRITERIA}}
Available tools:
{{AVAILABLE_TOOLS}}
Respond in {{USER_LANGUAGE}}. Respond with a single JSON object matching the provided schema.`,

	"shell": `You plan shell command execution. Given the action below, produce the tool calls needed.
Action: {{ACTION}}
Success criteria: {{SUCCESS_CRITERIA}}
Available tools:
{{AVAILABLE_TOOLS}}
Respond in {{USER_LANGUAGE}}. Respond with a single JSON object matching the provided schema.`,

	"browser": `You plan browser automation. Given the action below, produce the tool calls needed.
Action: {{ACTION}}
Success criteria: {{SUCCESS_CRITERIA}}
Available tools:
{{AVAILABLE_TOOLS}}
Respond in {{USER_LANGUAGE}}. Respond with a single JSON object matching the provided schema.`,

	"default": `You plan tool invocations to accomplish an action. Given the action below, produce the tool calls needed, or a direct_result if no tool call is needed.
Action: {{ACTION}}
Success criteria: {{SUCCESS_CRITERIA}}
Available tools:
{{AVAILABLE_TOOLS}}
Respond in {{USER_LANGUAGE}}. Respond with a single JSON object matching the provided schema.`,
}

const correctionAddendum = `
The previous response failed validation:
{{VALIDATION_ERRORS}}
Correct the tool calls and respond again with a single JSON object matching the provided schema.`

// assemblePrompt substitutes the §4.9 placeholders into the named
// template, defaulting to the default template for an unknown name.
func assemblePrompt(templateName, action, successCriteria, availableTools, userLanguage string) string {
	body, ok := templates[templateName]
	if !ok {
		body = templates["default"]
	}
	return substitute(body, action, successCriteria, availableTools, userLanguage)
}

func substitute(body, action, successCriteria, availableTools, userLanguage string) string {
	replacer := strings.NewReplacer(
		"{{ACTION}}", action,
		"{{SUCCESS_CRITERIA}}", successCriteria,
		"{{AVAILABLE_TOOLS}}", availableTools,
		"{{USER_LANGUAGE}}", userLanguage,
	)
	return replacer.Replace(body)
}
