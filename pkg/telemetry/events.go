package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one lifecycle notification. Subscribers receive events for
// run progress, item changes, and policy findings.
type Event struct {
	// ID is the unique identifier of this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is one of the EventType constants.
	Type string `json:"type"`

	// PlanID is the associated plan, if applicable.
	PlanID string `json:"plan_id,omitempty"`

	// ItemID is the associated plan item, if applicable.
	ItemID string `json:"item_id,omitempty"`

	// Message is a human-readable summary.
	Message string `json:"message"`

	// Level is the severity (info, warning, error).
	Level string `json:"level"`

	// Data carries additional event-specific fields.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeSyncStarted     = "sync.started"
	EventTypeSyncCompleted   = "sync.completed"
	EventTypeSyncFailed      = "sync.failed"
	EventTypeItemCreated     = "item.created"
	EventTypeItemUpdated     = "item.updated"
	EventTypeItemDeleted     = "item.deleted"
	EventTypePolicyViolation = "policy.violation"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles delivered events.
type EventSubscriber func(event Event)

// EventFilter decides whether an event is delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, optionally through an
// async buffer.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher from the events settings.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep, nil
}

// Publish delivers an event to all matching subscribers. The ID and
// timestamp are stamped when absent.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliver(event)
	return nil
}

// PublishSyncStarted announces the start of a run.
func (ep *EventPublisher) PublishSyncStarted(kind, planID, target string) error {
	return ep.Publish(Event{
		Type:    EventTypeSyncStarted,
		PlanID:  planID,
		Message: fmt.Sprintf("%s of plan %s against %s started", kind, planID, target),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"kind":   kind,
			"target": target,
		},
	})
}

// PublishSyncCompleted announces a finished run.
func (ep *EventPublisher) PublishSyncCompleted(planID string, created, updated int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeSyncCompleted,
		PlanID:  planID,
		Message: fmt.Sprintf("sync of plan %s completed: %d created, %d updated", planID, created, updated),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"created":  created,
			"updated":  updated,
			"duration": duration.Seconds(),
		},
	})
}

// PublishSyncFailed announces a failed run.
func (ep *EventPublisher) PublishSyncFailed(planID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeSyncFailed,
		PlanID:  planID,
		Message: fmt.Sprintf("sync of plan %s failed: %s", planID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishItemCreated announces a created item.
func (ep *EventPublisher) PublishItemCreated(planID, itemID, key string) error {
	return ep.Publish(Event{
		Type:    EventTypeItemCreated,
		PlanID:  planID,
		ItemID:  itemID,
		Message: fmt.Sprintf("item %s created as %s", itemID, key),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"key": key,
		},
	})
}

// PublishPolicyViolation announces one policy finding.
func (ep *EventPublisher) PublishPolicyViolation(planID, itemID, policy, message, severity string) error {
	level := EventLevelWarning
	if severity == "error" || severity == "critical" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		PlanID:  planID,
		ItemID:  itemID,
		Message: fmt.Sprintf("policy %s: %s", policy, message),
		Level:   level,
		Data: map[string]interface{}{
			"policy":   policy,
			"severity": severity,
		},
	})
}

// Subscribe registers a subscriber with an optional filter.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber, filter})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for {
		select {
		case event := <-ep.buffer:
			ep.deliver(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains the async buffer and stops delivery.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled || ep.cancel == nil {
		return nil
	}
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel allows events at or above the given level.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	min := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= min
	}
}

// FilterByType allows events of the given types only.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByPlanID allows events for one plan only.
func FilterByPlanID(planID string) EventFilter {
	return func(event Event) bool {
		return event.PlanID == planID
	}
}
