package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkflowEvent describes one transition of a session's upload workflow
type WorkflowEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	SessionID      string                 `json:"session_id,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Success        bool                   `json:"success"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of workflow event
type EventType string

const (
	// ImageSelected when a file was encoded and became the source image
	ImageSelected EventType = "image_selected"
	// EncodeFailed when a selected file could not be read
	EncodeFailed EventType = "encode_failed"
	// ProcessingStarted when a remove-background call is submitted
	ProcessingStarted EventType = "processing_started"
	// ProcessingCompleted when the remote call returned a result URL
	ProcessingCompleted EventType = "processing_completed"
	// ProcessingFailed when the remote call failed
	ProcessingFailed EventType = "processing_failed"
	// ResultDiscarded when a result arrived for a source image that was since replaced
	ResultDiscarded EventType = "result_discarded"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event WorkflowEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event WorkflowEvent)
}

// LoggingObserver logs workflow events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles workflow events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event WorkflowEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"session_id": event.SessionID,
		"success":    event.Success,
	}
	if event.ProcessingTime > 0 {
		fields["processing_time_ms"] = event.ProcessingTime.Milliseconds()
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case ImageSelected:
		entry.Info("Source image selected")
	case EncodeFailed:
		entry.Warn("Selected file could not be encoded")
	case ProcessingStarted:
		entry.Info("Background removal started")
	case ProcessingCompleted:
		entry.Info("Background removal completed")
	case ProcessingFailed:
		entry.Error("Background removal failed")
	case ResultDiscarded:
		entry.Debug("Stale background removal result discarded")
	default:
		entry.Info("Workflow event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from workflow events
type MetricsObserver struct {
	mu                  sync.RWMutex
	selections          int64
	encodeFailures      int64
	submissions         int64
	completions         int64
	failures            int64
	discarded           int64
	totalProcessingTime time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles workflow events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event WorkflowEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case ImageSelected:
		o.selections++
	case EncodeFailed:
		o.encodeFailures++
	case ProcessingStarted:
		o.submissions++
	case ProcessingCompleted:
		o.completions++
		o.totalProcessingTime += event.ProcessingTime
	case ProcessingFailed:
		o.failures++
	case ResultDiscarded:
		o.discarded++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgProcessingTime := time.Duration(0)
	if o.completions > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(o.completions)
	}

	return map[string]interface{}{
		"images_selected":        o.selections,
		"encode_failures":        o.encodeFailures,
		"removals_submitted":     o.submissions,
		"removals_completed":     o.completions,
		"removals_failed":        o.failures,
		"results_discarded":      o.discarded,
		"avg_processing_time_ms": avgProcessingTime.Milliseconds(),
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers the event to every observer in subscription order.
// Delivery is synchronous so per-session event order is preserved; a
// panicking observer is logged and skipped.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event WorkflowEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		notify(ctx, observer, event)
	}
}

func notify(ctx context.Context, obs Observer, event WorkflowEvent) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("observer", obs.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}
