package port

import "context"

type Notifier interface {
	// Notify delivers a push notification to the audience. Best effort:
	// callers must treat failures as log-and-continue.
	Notify(ctx context.Context, audience []string, title, body string, metadata map[string]string) error
}

type Deduper interface {
	// Once marks key as seen, returning false if it was already marked.
	Once(ctx context.Context, key string) (bool, error)
}
