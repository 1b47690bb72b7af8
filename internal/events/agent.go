package events

// Agent event types.
const (
	TypeAgentBroadcast          = "agent_broadcast"
	TypeAgentDirectMessage      = "agent_direct_message"
	TypeAgentTerminatedManually = "agent_terminated_manually"
	TypeAgentUnresponsive       = "agent_unresponsive"
)

// AgentEvent reports agent messaging and administrative termination.
type AgentEvent struct {
	BaseEvent
	AgentID     string `json:"agent_id"`
	RecipientID string `json:"recipient_agent_id,omitempty"`
	Message     string `json:"message,omitempty"`
}

// NewAgentBroadcastEvent signals a message fanned out to all live agents.
func NewAgentBroadcastEvent(workflowID, agentID, message string) *AgentEvent {
	return &AgentEvent{
		BaseEvent: NewBaseEvent(TypeAgentBroadcast, workflowID),
		AgentID:   agentID,
		Message:   message,
	}
}

// NewAgentDirectMessageEvent signals a one-to-one agent message.
func NewAgentDirectMessageEvent(workflowID, agentID, recipientID, message string) *AgentEvent {
	return &AgentEvent{
		BaseEvent:   NewBaseEvent(TypeAgentDirectMessage, workflowID),
		AgentID:     agentID,
		RecipientID: recipientID,
		Message:     message,
	}
}

// NewAgentUnresponsiveEvent signals an agent the watchdog gave up on.
func NewAgentUnresponsiveEvent(workflowID, agentID, reason string) *AgentEvent {
	return &AgentEvent{
		BaseEvent: NewBaseEvent(TypeAgentUnresponsive, workflowID),
		AgentID:   agentID,
		Message:   reason,
	}
}

// NewAgentTerminatedEvent signals an admin-initiated termination.
func NewAgentTerminatedEvent(workflowID, agentID string) *AgentEvent {
	return &AgentEvent{
		BaseEvent: NewBaseEvent(TypeAgentTerminatedManually, workflowID),
		AgentID:   agentID,
	}
}
