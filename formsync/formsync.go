// Package formsync resubmits form submissions that were deferred while offline.
package formsync

import (
	"context"

	"github.com/rs/zerolog"
)

// Tag is the background sync tag for deferred form submissions.
const Tag = "sync-forms"

// Syncer drains deferred form submissions.
type Syncer struct {
	log zerolog.Logger
}

func NewSyncer(logger zerolog.Logger) *Syncer {
	return &Syncer{log: logger}
}

// SyncFormSubmissions is meant to read the pending submissions from persistent
// storage and submit them to the server. The queue itself does not exist yet,
// so for now this only logs.
func (s *Syncer) SyncFormSubmissions(ctx context.Context) error {
	s.log.Info().Msg("Syncing form submissions...")
	return ctx.Err()
}
