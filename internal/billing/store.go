package billing

import "context"

// EventStore tracks processed provider event IDs and archives unknown
// events.
type EventStore interface {
	// IsProcessed reports whether the external event ID was already handled.
	IsProcessed(ctx context.Context, externalID string) (bool, error)
	// MarkProcessed records the external event ID with its result.
	MarkProcessed(ctx context.Context, externalID string, result Result) error
	// Archive stores an unknown event's payload for later inspection.
	Archive(ctx context.Context, e *Event) error
	// ListArchived returns archived events, newest first.
	ListArchived(ctx context.Context, limit int) ([]*Event, error)
}
