// Package events defines the orchestrator's typed event stream (§6, §4.13).
// Event type names are contractual: consumers (chat UI, TTS, SSE bridges)
// match on Type, so renaming one is a wire-compatibility break.
package events

import "time"

// Type identifies the kind of frame on the event stream.
type Type string

const (
	TypeModeSelected     Type = "mode_selected"
	TypeTodoCreated      Type = "mcp_todo_created"
	TypeItemBlocked      Type = "mcp_item_blocked"
	TypeItemExecuted     Type = "mcp_item_executed"
	TypeItemVerified     Type = "mcp_item_verified"
	TypeItemReplanned    Type = "mcp_item_replanned"
	TypeItemSkipped      Type = "mcp_item_skipped"
	TypeItemFailed       Type = "mcp_item_failed"
	TypeWorkflowComplete Type = "mcp_workflow_complete"
	TypeWorkflowError    Type = "mcp_workflow_error"
	// TypeAgentMessage carries a chat-facing message from one of the logical
	// agents (planner, executor, verifier, system) to the event sink.
	TypeAgentMessage Type = "agent_message"
)

// Agent identifies which logical agent authored an agent-targeted message.
type Agent string

const (
	AgentPlanner  Agent = "planner"
	AgentExecutor Agent = "executor"
	AgentVerifier Agent = "verifier"
	AgentSystem   Agent = "system"
)

// Event is a single tagged frame on the event stream. Data carries a
// type-specific payload (see the Data* structs below); Seq is a per-session
// monotonic sequence number assigned by the Sink for ordering/audit.
type Event struct {
	Seq       int64     `json:"seq"`
	Type      Type      `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type (
	// DataModeSelected is the payload for TypeModeSelected.
	DataModeSelected struct {
		Mode       string  `json:"mode"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning,omitempty"`
		Mood       string  `json:"mood,omitempty"`
	}

	// DataTodoCreated is the payload for TypeTodoCreated.
	DataTodoCreated struct {
		PlanID    string `json:"planId"`
		Summary   string `json:"summary"`
		ItemCount int    `json:"itemCount"`
		Mode      string `json:"mode"`
	}

	// DataItemBlocked is the payload for TypeItemBlocked.
	DataItemBlocked struct {
		ItemID           string   `json:"itemId"`
		BlockedOn        []string `json:"blockedOn"`
		BlockedCheckCount int     `json:"blockedCheckCount"`
	}

	// DataItemExecuted is the payload for TypeItemExecuted.
	DataItemExecuted struct {
		ItemID  string `json:"itemId"`
		Success bool   `json:"success"`
		Summary string `json:"summary"`
	}

	// DataItemVerified is the payload for TypeItemVerified.
	DataItemVerified struct {
		ItemID     string  `json:"itemId"`
		Verified   bool    `json:"verified"`
		Confidence float64 `json:"confidence"`
		Summary    string  `json:"summary"`
	}

	// DataItemReplanned is the payload for TypeItemReplanned.
	DataItemReplanned struct {
		ItemID        string `json:"itemId"`
		NewItemsCount int    `json:"newItemsCount"`
		Reason        string `json:"reason"`
	}

	// DataItemSkipped is the payload for TypeItemSkipped.
	DataItemSkipped struct {
		ItemID string `json:"itemId"`
		Reason string `json:"reason"`
	}

	// DataItemFailed is the payload for TypeItemFailed.
	DataItemFailed struct {
		ItemID string `json:"itemId"`
		Reason string `json:"reason"`
	}

	// DataWorkflowComplete is the payload for TypeWorkflowComplete.
	DataWorkflowComplete struct {
		Completed   int     `json:"completed"`
		Total       int     `json:"total"`
		SuccessRate float64 `json:"successRate"`
		DurationMS  int64   `json:"durationMs"`
	}

	// DataWorkflowError is the payload for TypeWorkflowError.
	DataWorkflowError struct {
		Reason string `json:"reason"`
		ItemID string `json:"itemId,omitempty"`
	}

	// DataAgentMessage is the payload for TypeAgentMessage.
	DataAgentMessage struct {
		Agent      Agent  `json:"agent"`
		Content    string `json:"content"`
		TTSContent string `json:"ttsContent,omitempty"`
		Mode       string `json:"mode"`
	}
)

// Sink is where the workflow engine writes event frames. Implementations
// typically fan out to a Broadcaster (see broadcast.go) so multiple
// consumers (chat UI, TTS, SSE bridge) can subscribe independently.
type Sink interface {
	Emit(e Event)
}
