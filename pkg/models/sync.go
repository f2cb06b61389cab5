package models

import "strings"

// AckErrorPrefix marks a server-side rejection in an ack status.
const AckErrorPrefix = "error:"

// AckOK is the plain success status. The server may also answer
// "accepted:<seq>"; anything without the error prefix counts as success.
const AckOK = "ok"

// OutboxEntry is a locally originated event waiting for server ack.
type OutboxEntry struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Type           string         `json:"type"`
	Data           map[string]any `json:"data"`
	ActorID        *string        `json:"actor_id,omitempty"`
	CreatedAt      *string        `json:"created_at,omitempty"`
}

// Shadow builds the provisional event shown before the server orders the
// entry.
func (o OutboxEntry) Shadow(seq int64, now string) Event {
	created := now
	if o.CreatedAt != nil && *o.CreatedAt != "" {
		created = *o.CreatedAt
	}
	ev := Event{
		ID:             o.ID,
		ConversationID: o.ConversationID,
		Seq:            seq,
		Type:           o.Type,
		CreatedAt:      created,
	}
	if o.ActorID != nil {
		a := *o.ActorID
		ev.ActorID = &a
	}
	if o.Data != nil {
		ev.Data = make(map[string]any, len(o.Data))
		for k, v := range o.Data {
			ev.Data[k] = v
		}
	}
	return ev
}

// SyncRequest is the body of one sync round-trip.
type SyncRequest struct {
	DeviceID     string           `json:"device_id"`
	ConvCursors  map[string]int64 `json:"conv_cursors"`
	OutboxEvents []OutboxEntry    `json:"outbox_events"`
}

// SyncResponse is the server's answer to a SyncRequest.
type SyncResponse struct {
	Ack                map[string]string  `json:"ack"`
	Deltas             map[string][]Event `json:"deltas"`
	ConversationsDelta []ConversationMeta `json:"conversations_delta"`
	UserSettingsDelta  []map[string]any   `json:"user_settings_delta"`
}

// AckAccepted reports whether status confirms delivery.
func AckAccepted(status string) bool {
	return !strings.HasPrefix(status, AckErrorPrefix)
}

// FetchQuery selects a page of events: either forward from After or a
// window centered on Around.
type FetchQuery struct {
	After  *int64
	Around *int64
	Limit  int
}

// After builds a forward page query.
func After(seq int64, limit int) FetchQuery {
	return FetchQuery{After: &seq, Limit: limit}
}

// Around builds a windowed seek query.
func Around(seq int64, limit int) FetchQuery {
	return FetchQuery{Around: &seq, Limit: limit}
}
