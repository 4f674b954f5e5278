package offlinecache

import (
	"context"

	"github.com/kilimo-guru/offline-cache/formsync"
	"github.com/kilimo-guru/offline-cache/notify"
)

// Sync handles a background sync event.
// Only the form sync tag does anything; it reports whether the tag was handled.
func (a *OfflineCache) Sync(ctx context.Context, tag string) (bool, error) {
	if tag != formsync.Tag {
		a.log.Debug().Str("tag", tag).Msg("Ignoring sync event")
		a.metrics.sync("other", "ignored")
		return false, nil
	}
	if err := a.syncer.SyncFormSubmissions(ctx); err != nil {
		a.metrics.sync(tag, "error")
		return true, err
	}
	a.metrics.sync(tag, "ok")
	return true, nil
}

// Push shows a notification for a push message.
func (a *OfflineCache) Push(ctx context.Context, msg notify.PushMessage) (notify.Notification, error) {
	n := notify.FromPush(a.notification, msg)
	if err := a.displayer.Show(ctx, n); err != nil {
		return n, err
	}
	a.metrics.pushes.Inc()
	return n, nil
}

// NotificationClick dismisses the notification and opens a page at its URL.
func (a *OfflineCache) NotificationClick(ctx context.Context, id string) (notify.Notification, error) {
	n, err := a.displayer.Close(ctx, id)
	if err != nil {
		return n, err
	}
	return n, a.opener.OpenWindow(ctx, n.Data.URL)
}
