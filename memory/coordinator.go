package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"goa.design/taskflow/llm"
	"goa.design/taskflow/telemetry"
)

// TopKEntities and TopRelations bound how much of a search result is
// formatted into the system prompt (§4.5: "top-k=5 entities ... plus top-3
// relations").
const (
	TopKEntities  = 5
	TopRelations  = 3
	maxObservations = 3
)

// EligibilityClassifier decides whether a request needs long-term memory
// retrieval. The default implementation is rule-based; callers may instead
// supply an LLM-backed one (§4.5: "a fast classifier (single LLM call or
// rule)").
type EligibilityClassifier interface {
	NeedsMemory(ctx context.Context, userMessage string) (needed bool, query string, triggers []string)
}

// ruleClassifier triggers retrieval when the message mentions a small set of
// memory-relevant keywords; the query is the message itself, truncated.
type ruleClassifier struct{}

// NewRuleClassifier returns the default rule-based EligibilityClassifier.
func NewRuleClassifier() EligibilityClassifier { return ruleClassifier{} }

var retrievalTriggers = []string{
	"remember", "recall", "previously", "last time", "earlier",
	"my preference", "i prefer", "we decided", "as discussed",
}

func (ruleClassifier) NeedsMemory(_ context.Context, userMessage string) (bool, string, []string) {
	lower := strings.ToLower(userMessage)
	var triggers []string
	for _, t := range retrievalTriggers {
		if strings.Contains(lower, t) {
			triggers = append(triggers, t)
		}
	}
	if len(triggers) == 0 {
		return false, "", nil
	}
	query := userMessage
	const maxQueryLen = 200
	if len(query) > maxQueryLen {
		query = query[:maxQueryLen]
	}
	return true, query, triggers
}

// Coordinator implements MemoryCoordinator (§4.5): retrieval eligibility,
// cached search, system-prompt formatting, and storage eligibility plus
// extraction.
type Coordinator struct {
	client     *Client
	cache      *Cache
	classifier EligibilityClassifier
	logger     telemetry.Logger
}

// NewCoordinator builds a Coordinator. client may be nil when no memory
// provider is registered, in which case retrieval/storage are silently
// skipped (§4.5: "Failures here are non-fatal").
func NewCoordinator(client *Client, cache *Cache, classifier EligibilityClassifier, logger telemetry.Logger) *Coordinator {
	if classifier == nil {
		classifier = NewRuleClassifier()
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Coordinator{client: client, cache: cache, classifier: classifier, logger: logger}
}

// ContextBlock retrieves (with caching) and formats memory context for the
// given user message, returning an empty string when memory is not needed,
// the memory provider is unavailable, or retrieval fails.
func (co *Coordinator) ContextBlock(ctx context.Context, userMessage string) string {
	if co.client == nil {
		return ""
	}
	needed, query, triggers := co.classifier.NeedsMemory(ctx, userMessage)
	if !needed {
		return ""
	}

	key := CacheKey(query, triggers)
	if co.cache != nil {
		if cached, ok := co.cache.Get(ctx, key); ok {
			return FormatContext(cached)
		}
	}

	result, err := co.client.SearchNodes(ctx, query, TopKEntities)
	if err != nil {
		co.logger.Warn(ctx, "memory: search_nodes failed", "error", err.Error())
		return ""
	}
	if co.cache != nil {
		co.cache.Put(ctx, key, result)
	}
	return FormatContext(result)
}

// FormatContext renders a search result as a textual block suitable for
// appending to the Chat system prompt: top TopKEntities entities (name +
// type + up to 3 observations) and top TopRelations relations.
func FormatContext(result SearchResult) string {
	entities := result.Entities
	if len(entities) > TopKEntities {
		entities = entities[:TopKEntities]
	}
	relations := result.Relations
	if len(relations) > TopRelations {
		relations = relations[:TopRelations]
	}
	if len(entities) == 0 && len(relations) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant memory context:\n")
	for _, e := range entities {
		obs := e.Observations
		if len(obs) > maxObservations {
			obs = obs[:maxObservations]
		}
		b.WriteString(fmt.Sprintf("- %s (%s): %s\n", e.Name, e.EntityType, strings.Join(obs, "; ")))
	}
	for _, r := range relations {
		b.WriteString(fmt.Sprintf("- %s %s %s\n", r.From, r.Type, r.To))
	}
	return b.String()
}

// systemPromptMarker and memoryContextMarker are the literal tags a
// finalized exchange must never echo back for storage, since their presence
// indicates the reply leaked the system prompt or its own injected memory
// context rather than producing new user-facing content (§8 invariant 9).
const (
	systemPromptMarker = "SYSTEM PROMPT"
	memoryContextMarker = "Relevant memory context:"
)

var preferenceTopic = regexp.MustCompile(`(?i)\b(prefer\w*|favorite|always use|never use)\b`)
var architectureTopic = regexp.MustCompile(`(?i)\b(architecture|design decision|we decided|schema|component)\b`)
var explicitStoreRequest = regexp.MustCompile(`(?i)\b(remember this|please remember|save this|note that)\b`)

// ShouldStore decides whether the finalized exchange is worth persisting
// (§4.5 "Storage eligibility"). It hard-rejects any reply that echoes the
// system prompt or the injected memory context, regardless of topic, per
// §8 invariant 9.
func ShouldStore(userMessage, assistantReply string) bool {
	if strings.Contains(assistantReply, systemPromptMarker) || strings.Contains(assistantReply, memoryContextMarker) {
		return false
	}
	combined := userMessage + "\n" + assistantReply
	return explicitStoreRequest.MatchString(combined) ||
		preferenceTopic.MatchString(combined) ||
		architectureTopic.MatchString(combined)
}

// Extract pulls candidate entities from a finalized exchange using a
// conservative rule-based extractor (§4.5: "extract entities ... with a
// conservative rule-based extractor"). It does no eligibility check of its
// own; Store calls it only after ShouldStore accepts the exchange.
func Extract(userMessage, assistantReply string) []Entity {
	var entities []Entity
	if m := preferenceTopic.FindString(userMessage + " " + assistantReply); m != "" {
		entities = append(entities, Entity{
			Name:         "user_preference",
			EntityType:   "preference",
			Observations: []string{strings.TrimSpace(userMessage)},
		})
	}
	if architectureTopic.MatchString(userMessage + " " + assistantReply) {
		entities = append(entities, Entity{
			Name:         "architecture_decision",
			EntityType:   "decision",
			Observations: []string{strings.TrimSpace(assistantReply)},
		})
	}
	return entities
}

// Store runs the full storage-eligibility + extraction + create_entities
// path for a finalized exchange. It is a no-op (and non-fatal on failure)
// when the memory provider is unavailable or the exchange is ineligible.
func (co *Coordinator) Store(ctx context.Context, userMessage, assistantReply string) {
	if co.client == nil {
		return
	}
	if !ShouldStore(userMessage, assistantReply) {
		return
	}
	entities := Extract(userMessage, assistantReply)
	if len(entities) == 0 {
		return
	}
	if err := co.client.CreateEntities(ctx, entities); err != nil {
		co.logger.Warn(ctx, "memory: create_entities failed", "error", err.Error())
	}
}

// classifyWithLLM is an alternative EligibilityClassifier backed by an
// llm.Client, for deployments that prefer a model call over the keyword
// heuristic (§4.5 allows either).
type classifyWithLLM struct {
	client llm.Client
	model  string
}

// NewLLMClassifier builds an EligibilityClassifier that asks client whether
// the message needs long-term memory, via a short yes/no classification
// prompt.
func NewLLMClassifier(client llm.Client, model string) EligibilityClassifier {
	return classifyWithLLM{client: client, model: model}
}

func (c classifyWithLLM) NeedsMemory(ctx context.Context, userMessage string) (bool, string, []string) {
	resp, err := c.client.Complete(ctx, llm.Request{
		Model: c.model,
		Messages: []llm.Message{
			{Role: "system", Content: "Reply with exactly YES or NO: does this message reference prior context, stated preferences, or past decisions that would benefit from long-term memory lookup?"},
			{Role: "user", Content: userMessage},
		},
		MaxTokens: 8,
	})
	if err != nil {
		return false, "", nil
	}
	if !strings.Contains(strings.ToUpper(resp.Content), "YES") {
		return false, "", nil
	}
	query := userMessage
	const maxQueryLen = 200
	if len(query) > maxQueryLen {
		query = query[:maxQueryLen]
	}
	return true, query, []string{"llm_classified"}
}
