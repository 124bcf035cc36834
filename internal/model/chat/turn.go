package chat

// Role tags one side of the oracle-facing history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged history entry handed to the reply oracle. Turns are
// ephemeral: they live for one orchestrator session and are never persisted.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn builds a user history entry.
func UserTurn(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// AssistantTurn builds a companion history entry.
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// ProjectTurns derives oracle history from an oldest-first message window.
// Voice messages carry no text the oracle can use and are skipped.
func ProjectTurns(messages []Message) []Turn {
	if len(messages) == 0 {
		return nil
	}
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		if !msg.IsText() || msg.Text == "" {
			continue
		}
		if msg.IsAI {
			turns = append(turns, AssistantTurn(msg.Text))
		} else {
			turns = append(turns, UserTurn(msg.Text))
		}
	}
	return turns
}
