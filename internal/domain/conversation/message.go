// Package conversation defines the persisted message history of a thread.
package conversation

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message is one entry in a thread's conversation history. ID is assigned by
// the caller (uuid) so re-delivery after a crash deduplicates on the primary
// key instead of inserting twice.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id,omitempty"`
	Role      Role      `json:"role"`
	Agent     string    `json:"agent,omitempty"`
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
