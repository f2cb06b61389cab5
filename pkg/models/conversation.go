package models

// ConversationState is the locally known slice of one conversation's log.
// Events are ascending by Seq and unique by ID; LastSeq is at least the
// largest Seq and never decreases.
type ConversationState struct {
	LastSeq int64   `json:"last_seq"`
	Events  []Event `json:"events"`
}

// ConversationMeta is the server's summary of a conversation, used for
// list rendering without hydrating its events.
type ConversationMeta struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Type      string `json:"type,omitempty"`
	LastSeq   int64  `json:"last_seq"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	ID        string `json:"id" yaml:"id"`
	Title     string `json:"title" yaml:"title"`
	LastSeq   int64  `json:"last_seq" yaml:"last_seq"`
	UpdatedAt string `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	Unread    int64  `json:"unread" yaml:"unread"`
	Preview   string `json:"preview" yaml:"preview"`
}

// ConversationExport is a self-contained backup of a conversation.
type ConversationExport struct {
	Conversation ConversationMeta `json:"conversation"`
	LastRead     int64            `json:"last_read_seq"`
	Events       []Event          `json:"events"`
}

// SearchHit points at a message matching a search query.
type SearchHit struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Seq            int64  `json:"seq"`
}
