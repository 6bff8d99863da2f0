package domain

import (
	"encoding/json"
	"strings"
)

// ProgressMessage is one inbound frame from the task-progress server.
// Raw keeps the full payload so handlers see exactly what the worker sent;
// the named fields are the subset this library routes and inspects.
type ProgressMessage struct {
	Type     string `json:"type"`
	TaskID   string `json:"task_id"`
	State    string `json:"state"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error"`

	// Synthetic marks failures manufactured by the channel itself
	// (credential failure, reconnect exhaustion) rather than received
	// from the worker.
	Synthetic bool `json:"-"`

	Raw json.RawMessage `json:"-"`
}

// MessageTypeConnected is the connection-ack frame; it carries no task_id
// and never reaches task handlers.
const MessageTypeConnected = "connected"

// SubscriptionUpdate is the outbound full-state replacement of the set of
// task IDs the client wants pushed. The server treats each update as the
// complete desired set, not a delta.
type SubscriptionUpdate struct {
	Action  string   `json:"action"`
	TaskIDs []string `json:"task_ids"`
}

const ActionUpdate = "update"

// TerminalFunc decides whether a message ends a task and with what result.
// The exact status strings are a contract with the external worker, so the
// predicate is pluggable; DefaultTerminal covers the values the worker is
// known to emit.
type TerminalFunc func(msg ProgressMessage) (success bool, terminal bool)

func DefaultTerminal(msg ProgressMessage) (bool, bool) {
	if msg.Synthetic {
		return false, true
	}
	state := msg.State
	if state == "" {
		state = msg.Status
	}
	switch strings.ToUpper(state) {
	case "SUCCESS", "COMPLETED", "DONE":
		return true, true
	case "FAILURE", "FAILED", "ERROR":
		return false, true
	}
	return false, false
}
