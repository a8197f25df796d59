package snapshot

import (
	"context"
	"time"
)

// StatusStore tracks job lifecycle state. Registration of an id must happen
// before the message that could trigger its transition is published.
type StatusStore interface {
	Register(ctx context.Context, id, url string) error
	Transition(ctx context.Context, id string, status Status) error
	Get(ctx context.Context, id string) (Job, error)
	List(ctx context.Context) ([]Job, error)
}

// Broker provides durable, at-least-once delivery between the submission API
// and the consumer. Publish returns only after the broker has accepted the
// message. Consume blocks delivering messages to the handler until the
// context finishes; messages are acknowledged after the handler returns,
// regardless of its error (logical failures are terminal, not requeued).
// A message whose handler failed only because of shutdown, with no terminal
// outcome recorded, is returned to the broker for redelivery.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context, handler func(context.Context, Message) error) error
	Close() error
}

// Renderer captures a full-page screenshot of a URL and returns the path of
// the temporary artifact it produced.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Cache maps canonical URL keys to stored artifacts on disk.
type Cache interface {
	// Lookup is a pure existence check against the canonical key.
	Lookup(url string) (string, bool)
	// Store atomically relocates a temporary artifact into the canonical
	// location for the URL and returns the final path.
	Store(url, tempPath string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
