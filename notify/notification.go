package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a notification is not (or no longer) shown.
var ErrNotFound = errors.New("notification not found")

// Options holds the fixed metadata every notification carries.
type Options struct {
	Title      string
	Icon       string
	Badge      string
	Vibrate    []int
	DefaultURL string
}

type Data struct {
	URL string `json:"url"`
}

type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Icon      string    `json:"icon"`
	Badge     string    `json:"badge"`
	Vibrate   []int     `json:"vibrate"`
	Data      Data      `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
}

// PushMessage is an incoming push message.
// Data is treated as plain text and never parsed.
// URL is only set when the sender provides one out of band.
type PushMessage struct {
	Data []byte
	URL  string
}

func (m PushMessage) Text() string {
	return string(m.Data)
}

// FromPush builds the notification descriptor for a push message.
func FromPush(opts Options, msg PushMessage) Notification {
	url := msg.URL
	if url == "" {
		url = opts.DefaultURL
	}
	vibrate := make([]int, len(opts.Vibrate))
	copy(vibrate, opts.Vibrate)
	return Notification{
		ID:        uuid.NewString(),
		Title:     opts.Title,
		Body:      msg.Text(),
		Icon:      opts.Icon,
		Badge:     opts.Badge,
		Vibrate:   vibrate,
		Data:      Data{URL: url},
		CreatedAt: time.Now(),
	}
}

// Displayer shows and dismisses notifications.
type Displayer interface {
	Show(ctx context.Context, n Notification) error
	// Close dismisses the notification and returns it.
	// It returns ErrNotFound if the notification is not shown.
	Close(ctx context.Context, id string) (Notification, error)
}

// WindowOpener opens (or focuses) a page at the given URL.
type WindowOpener interface {
	OpenWindow(ctx context.Context, url string) error
}

// WindowOpenerFunc adapts a function to the WindowOpener interface.
type WindowOpenerFunc func(ctx context.Context, url string) error

func (f WindowOpenerFunc) OpenWindow(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Tray keeps the currently shown notifications in memory.
type Tray struct {
	log   zerolog.Logger
	mutex sync.RWMutex
	shown map[string]Notification
}

func NewTray(logger zerolog.Logger) *Tray {
	return &Tray{
		log:   logger,
		shown: make(map[string]Notification),
	}
}

func (t *Tray) Show(ctx context.Context, n Notification) error {
	t.mutex.Lock()
	t.shown[n.ID] = n
	t.mutex.Unlock()
	t.log.Info().
		Str("id", n.ID).
		Str("title", n.Title).
		Str("url", n.Data.URL).
		Msg("Showing notification")
	return nil
}

func (t *Tray) Close(ctx context.Context, id string) (Notification, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	n, ok := t.shown[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	delete(t.shown, id)
	t.log.Debug().Str("id", id).Msg("Closed notification")
	return n, nil
}

// Shown returns the notifications currently shown, oldest first.
func (t *Tray) Shown() []Notification {
	t.mutex.RLock()
	list := make([]Notification, 0, len(t.shown))
	for _, n := range t.shown {
		list = append(list, n)
	}
	t.mutex.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// LogOpener returns a WindowOpener that only logs the URL.
// Over HTTP the actual navigation is a redirect issued by the caller.
func LogOpener(logger zerolog.Logger) WindowOpener {
	return WindowOpenerFunc(func(ctx context.Context, url string) error {
		logger.Debug().Str("url", url).Msg("Opening window")
		return nil
	})
}
