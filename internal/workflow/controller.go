// Package workflow holds the per-session upload state machine:
// Idle -> ImageSelected -> Processing -> Completed | Failed.
//
// A Controller owns at most one in-flight remove-background call. Encoding and
// the remote call run without holding the lock; results are applied only if
// they still belong to the latest selection.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go-bg-remover/internal/encoder"
	"go-bg-remover/internal/observer"
	"go-bg-remover/internal/removal"
)

type State string

const (
	StateIdle          State = "idle"
	StateImageSelected State = "image_selected"
	StateProcessing    State = "processing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Target names which displayed image the fullscreen overlay shows.
type Target string

const (
	TargetNone      Target = ""
	TargetSource    Target = "source"
	TargetProcessed Target = "processed"
)

// DownloadFilename is the name the browser saves the processed image under.
const DownloadFilename = "processed-image.png"

var (
	ErrSubmitDisabled   = errors.New("submission is disabled")
	ErrEncodeFailed     = errors.New("selected image could not be read")
	ErrSuperseded       = errors.New("superseded by a newer selection")
	ErrNoProcessedImage = errors.New("no processed image")
	ErrInvalidTarget    = errors.New("fullscreen target is not displayed")
	ErrNoFetcher        = errors.New("selecting by URL is not configured")
)

type Encoder interface {
	Encode(ctx context.Context, r io.Reader, declaredType, filename string) (*encoder.SourceImage, error)
}

// SourceFetcher opens a remote image for selection by URL.
type SourceFetcher interface {
	Fetch(ctx context.Context, imageURL string) (io.ReadCloser, string, error)
}

type ProcessedImage struct {
	URL         string    `json:"url"`
	CompletedAt time.Time `json:"completed_at"`
}

// Snapshot is a copy of the controller state for rendering.
type Snapshot struct {
	State      State                `json:"state"`
	Source     *encoder.SourceImage `json:"source,omitempty"`
	Processed  *ProcessedImage      `json:"processed,omitempty"`
	Fullscreen Target               `json:"fullscreen,omitempty"`
	CanSubmit  bool                 `json:"can_submit"`
}

type Download struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type Controller struct {
	sessionID string
	encoder   Encoder
	remover   removal.Remover
	fetcher   SourceFetcher
	events    observer.Subject

	mu         sync.Mutex
	state      State
	source     *encoder.SourceImage
	processed  *ProcessedImage
	fullscreen Target
	// selection counts started selections; sourceGen is the selection the
	// current source came from. A pending encode or call whose number no
	// longer matches lost to a newer selection.
	selection uint64
	sourceGen uint64
	inFlight  bool
}

type Option func(*Controller)

// WithFetcher enables SelectURL.
func WithFetcher(f SourceFetcher) Option {
	return func(c *Controller) { c.fetcher = f }
}

// WithEvents publishes workflow transitions to s.
func WithEvents(s observer.Subject) Option {
	return func(c *Controller) { c.events = s }
}

func New(sessionID string, enc Encoder, remover removal.Remover, opts ...Option) *Controller {
	c := &Controller{
		sessionID: sessionID,
		encoder:   enc,
		remover:   remover,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Select encodes r and makes it the source image. On failure the session
// returns to Idle.
func (c *Controller) Select(ctx context.Context, r io.Reader, contentType, filename string) (Snapshot, error) {
	return c.selectFrom(ctx, func(ctx context.Context) (*encoder.SourceImage, error) {
		return c.encoder.Encode(ctx, r, contentType, filename)
	})
}

// SelectURL downloads imageURL and selects it like an uploaded file.
func (c *Controller) SelectURL(ctx context.Context, imageURL string) (Snapshot, error) {
	if c.fetcher == nil {
		return c.Snapshot(), ErrNoFetcher
	}
	return c.selectFrom(ctx, func(ctx context.Context) (*encoder.SourceImage, error) {
		body, contentType, err := c.fetcher.Fetch(ctx, imageURL)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = body.Close()
		}()
		return c.encoder.Encode(ctx, body, contentType, "")
	})
}

func (c *Controller) selectFrom(ctx context.Context, load func(context.Context) (*encoder.SourceImage, error)) (Snapshot, error) {
	c.mu.Lock()
	c.selection++
	gen := c.selection
	c.mu.Unlock()

	src, err := load(ctx)

	c.mu.Lock()
	if gen != c.selection {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrSuperseded
	}

	c.sourceGen = gen
	c.processed = nil
	c.fullscreen = TargetNone
	if err != nil {
		c.source = nil
		c.state = StateIdle
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.publish(ctx, observer.WorkflowEvent{EventType: observer.EncodeFailed, ErrorMessage: err.Error()})
		return snap, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}

	c.source = src
	c.state = StateImageSelected
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(ctx, observer.WorkflowEvent{
		EventType: observer.ImageSelected,
		Success:   true,
		Metadata: map[string]interface{}{
			"mime_type": src.MIMEType,
			"size":      src.Size,
		},
	})
	return snap, nil
}

// Submit sends the current source image to the remover and waits for the
// outcome. It is a no-op returning ErrSubmitDisabled while a call is in
// flight or when no source image is selected. The remote call is not
// canceled when ctx is.
func (c *Controller) Submit(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.source == nil || c.inFlight {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrSubmitDisabled
	}
	c.state = StateProcessing
	c.inFlight = true
	gen := c.sourceGen
	ref := c.source.DataURI
	c.mu.Unlock()

	c.publish(ctx, observer.WorkflowEvent{EventType: observer.ProcessingStarted})

	start := time.Now()
	url, err := c.remover.RemoveBackground(context.WithoutCancel(ctx), ref)
	elapsed := time.Since(start)

	c.mu.Lock()
	c.inFlight = false
	if gen != c.sourceGen {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.publish(ctx, observer.WorkflowEvent{EventType: observer.ResultDiscarded, ProcessingTime: elapsed})
		return snap, ErrSuperseded
	}

	if err != nil {
		c.state = StateFailed
		c.processed = nil
		if c.fullscreen == TargetProcessed {
			c.fullscreen = TargetNone
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()

		event := observer.WorkflowEvent{
			EventType:      observer.ProcessingFailed,
			ProcessingTime: elapsed,
			ErrorMessage:   err.Error(),
		}
		var rerr *removal.RemovalError
		if errors.As(err, &rerr) {
			event.Metadata = map[string]interface{}{"failure_kind": rerr.Kind}
		}
		c.publish(ctx, event)
		return snap, err
	}

	c.state = StateCompleted
	c.processed = &ProcessedImage{URL: url, CompletedAt: time.Now()}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(ctx, observer.WorkflowEvent{
		EventType:      observer.ProcessingCompleted,
		ProcessingTime: elapsed,
		Success:        true,
	})
	return snap, nil
}

// Download returns what the browser should save for the processed image.
func (c *Controller) Download() (Download, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.processed == nil {
		return Download{}, ErrNoProcessedImage
	}
	return Download{URL: c.processed.URL, Filename: DownloadFilename}, nil
}

// ShowFullscreen opens the overlay on a displayed image. It never changes
// the processing state or the images.
func (c *Controller) ShowFullscreen(target Target) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case target == TargetSource && c.source != nil:
	case target == TargetProcessed && c.processed != nil:
	default:
		return c.snapshotLocked(), ErrInvalidTarget
	}
	c.fullscreen = target
	return c.snapshotLocked(), nil
}

func (c *Controller) DismissFullscreen() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fullscreen = TargetNone
	return c.snapshotLocked()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      c.state,
		Fullscreen: c.fullscreen,
		CanSubmit:  c.source != nil && !c.inFlight,
	}
	if c.source != nil {
		src := *c.source
		snap.Source = &src
	}
	if c.processed != nil {
		p := *c.processed
		snap.Processed = &p
	}
	return snap
}

func (c *Controller) publish(ctx context.Context, event observer.WorkflowEvent) {
	if c.events == nil {
		return
	}
	event.SessionID = c.sessionID
	c.events.NotifyObservers(ctx, event)
}
