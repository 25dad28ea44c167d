package ports

import (
	"context"

	"github.com/mikey/sortana/internal/core"
)

// Ingestor is a long-running source of new-mail events
type Ingestor interface {
	// Name identifies the source in logs and metrics
	Name() string

	// Start begins accepting events in the background
	Start() error

	// Stop stops accepting events
	Stop() error
}

// Sorter is the command surface that ingest sources drive
type Sorter interface {
	ApplyRules(ids ...core.MessageID) <-chan struct{}
	ApplyToFolder(ctx context.Context, folder string) (int, error)
}

// IngestRecorder receives ingest telemetry
type IngestRecorder interface {
	Ingested(source string, err error)
}

// MailBackend is a mail store that also accepts newly received messages
type MailBackend interface {
	core.MailStore
	core.Deliverer
}
