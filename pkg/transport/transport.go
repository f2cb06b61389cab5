package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/tealigantal/gp/pkg/models"
)

// Transport is the remote side of the sync engine.
type Transport interface {
	Sync(ctx context.Context, req models.SyncRequest) (models.SyncResponse, error)
	FetchEvents(ctx context.Context, conversationID string, q models.FetchQuery) ([]models.Event, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	Search(ctx context.Context, query, conversationID string, limit int) ([]models.SearchHit, error)
}

// Error is a failed round-trip. StatusCode is 0 when no response arrived.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

func (e *Error) Unwrap() error { return e.Err }

// IsStatus reports whether err is a transport Error with the given code.
func IsStatus(err error, code int) bool {
	var te *Error
	return errors.As(err, &te) && te.StatusCode == code
}
