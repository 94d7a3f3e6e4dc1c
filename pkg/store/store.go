// Package store defines persistence for views, pending edits, and event
// history.
package store

import (
	"time"

	"github.com/previewlabs/previewd/pkg/eventbus"
	"github.com/previewlabs/previewd/pkg/overlay"
)

// Engine selects the execution path for a view.
type Engine string

const (
	// EngineSandbox is the primary path: a booted sandbox with a full
	// toolchain.
	EngineSandbox Engine = "sandbox"
	// EngineEmbedded is the secondary path: the in-browser bundler fed by
	// a bundling plan.
	EngineEmbedded Engine = "embedded"
)

// View is the persistent record of one viewing session's environment.
type View struct {
	ID         string    `json:"id"`
	Repo       string    `json:"repo"`
	Branch     string    `json:"branch"`
	Engine     Engine    `json:"engine"`
	Phase      string    `json:"phase"`
	PreviewURL string    `json:"preview_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store provides persistence for views, their pending edits, and their
// event history.
type Store interface {
	CreateView(v *View) error
	GetView(id string) (*View, error)
	ListViews() ([]*View, error)
	UpdateView(v *View) error

	UpsertEdit(viewID string, e overlay.PendingEdit) error
	PendingEdits(viewID string) ([]overlay.PendingEdit, error)

	AddEvent(e *eventbus.Event) error
	EventsForView(viewID string, afterID int64) ([]*eventbus.Event, error)

	Close() error
}
