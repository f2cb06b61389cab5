package models

// Event types understood by the engine. Anything else is stored opaquely.
const (
	TypeMessageCreated  = "message.created"
	TypeMessageEdited   = "message.edited"
	TypeMessageRecalled = "message.recalled"
	TypeReadUpdated     = "read.updated"
)

// Event is one record of a conversation-level state change. Seq is
// assigned by the server; a zero Seq marks an event the server has not
// ordered yet.
type Event struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Seq            int64          `json:"seq"`
	Type           string         `json:"type"`
	ActorID        *string        `json:"actor_id"`
	CreatedAt      string         `json:"created_at"`
	Data           map[string]any `json:"data"`
}

// Clone returns a copy whose Data map and ActorID are not shared.
func (e Event) Clone() Event {
	out := e
	if e.ActorID != nil {
		a := *e.ActorID
		out.ActorID = &a
	}
	if e.Data != nil {
		out.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			out.Data[k] = v
		}
	}
	return out
}

// Content returns data.content when it is a string.
func (e Event) Content() string {
	if e.Data == nil {
		return ""
	}
	s, _ := e.Data["content"].(string)
	return s
}

// Actor returns the actor id or "" when unset.
func (e Event) Actor() string {
	if e.ActorID == nil {
		return ""
	}
	return *e.ActorID
}

// StringPtr is a helper for optional string fields.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
