package service

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// EventType classifies an ArchiveEvent.
type EventType int

const (
	EventStarted EventType = iota + 1
	EventProgress
	EventPaused
	EventResumed
	EventCompleted
	EventFailed
	EventChunkWritten
	EventChunkRead
)

func (e EventType) String() string {
	switch e {
	case EventStarted:
		return "STARTED"
	case EventProgress:
		return "PROGRESS"
	case EventPaused:
		return "PAUSED"
	case EventResumed:
		return "RESUMED"
	case EventCompleted:
		return "COMPLETED"
	case EventFailed:
		return "FAILED"
	case EventChunkWritten:
		return "CHUNK_WRITTEN"
	case EventChunkRead:
		return "CHUNK_READ"
	default:
		return "UNKNOWN"
	}
}

// ArchiveEvent is one lifecycle or progress event from an archive write
// or read session.
type ArchiveEvent struct {
	SessionID       string
	EventType       EventType
	Timestamp       time.Time
	ProgressPercent float64
	Message         string
	Metadata        map[string]string
}

// EventSubscription is an active subscription to a stream of
// ArchiveEvents, optionally filtered to one session.
type EventSubscription struct {
	ID              string
	SessionIDFilter string
	Channel         chan *ArchiveEvent
}

// EventPublisher manages event subscriptions and broadcasting.
type EventPublisher struct {
	subscriptions map[string]*EventSubscription
	mu            sync.RWMutex
	bufferSize    int
}

// NewEventPublisher creates a new event publisher with a per-subscriber
// channel buffer of bufferSize.
func NewEventPublisher(bufferSize int) *EventPublisher {
	return &EventPublisher{
		subscriptions: make(map[string]*EventSubscription),
		bufferSize:    bufferSize,
	}
}

// Subscribe creates a new event subscription, optionally filtered to one
// session id.
func (p *EventPublisher) Subscribe(sessionIDFilter string) *EventSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &EventSubscription{
		ID:              generateSubscriptionID(),
		SessionIDFilter: sessionIDFilter,
		Channel:         make(chan *ArchiveEvent, p.bufferSize),
	}

	p.subscriptions[sub.ID] = sub
	return sub
}

// Unsubscribe removes an event subscription.
func (p *EventPublisher) Unsubscribe(subscriptionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sub, exists := p.subscriptions[subscriptionID]; exists {
		close(sub.Channel)
		delete(p.subscriptions, subscriptionID)
	}
}

// Publish broadcasts an event to all matching subscribers, never
// blocking a slow consumer.
func (p *EventPublisher) Publish(event *ArchiveEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subscriptions {
		if sub.SessionIDFilter != "" && sub.SessionIDFilter != event.SessionID {
			continue
		}

		select {
		case sub.Channel <- event:
		default:
			// channel full; drop rather than block the publisher on a slow consumer
		}
	}
}

// PublishStarted publishes an archive session started event.
func (p *EventPublisher) PublishStarted(sessionID, archiveID string, targetBytes int64) {
	p.Publish(&ArchiveEvent{
		SessionID:       sessionID,
		EventType:       EventStarted,
		Timestamp:       time.Now(),
		ProgressPercent: 0,
		Message:         "session started",
		Metadata: map[string]string{
			"archive_id":   archiveID,
			"target_bytes": strconv.FormatInt(targetBytes, 10),
		},
	})
}

// PublishProgress publishes a progress update event.
func (p *EventPublisher) PublishProgress(sessionID string, progressPercent, throughputMbps float64) {
	p.Publish(&ArchiveEvent{
		SessionID:       sessionID,
		EventType:       EventProgress,
		Timestamp:       time.Now(),
		ProgressPercent: progressPercent,
		Message:         "in progress",
		Metadata: map[string]string{
			"throughput_mbps": formatFloat(throughputMbps),
		},
	})
}

// PublishCompleted publishes a session completed event.
func (p *EventPublisher) PublishCompleted(sessionID string, totalTime time.Duration, avgThroughputMbps float64) {
	p.Publish(&ArchiveEvent{
		SessionID:       sessionID,
		EventType:       EventCompleted,
		Timestamp:       time.Now(),
		ProgressPercent: 100,
		Message:         "completed successfully",
		Metadata: map[string]string{
			"total_time_seconds":     strconv.FormatInt(int64(totalTime.Seconds()), 10),
			"average_throughput_mbps": formatFloat(avgThroughputMbps),
		},
	})
}

// PublishFailed publishes a session failed event.
func (p *EventPublisher) PublishFailed(sessionID, errorMessage string) {
	p.Publish(&ArchiveEvent{
		SessionID:       sessionID,
		EventType:       EventFailed,
		Timestamp:       time.Now(),
		ProgressPercent: 0,
		Message:         errorMessage,
	})
}

// PublishChunkWritten publishes a chunk submitted-to-sink event.
func (p *EventPublisher) PublishChunkWritten(sessionID, chunkID string, chunkIndex int64) {
	p.Publish(&ArchiveEvent{
		SessionID: sessionID,
		EventType: EventChunkWritten,
		Timestamp: time.Now(),
		Metadata: map[string]string{
			"chunk_index": strconv.FormatInt(chunkIndex, 10),
			"chunk_id":    chunkID,
		},
	})
}

// PublishChunkRead publishes a chunk fetched-from-sink event.
func (p *EventPublisher) PublishChunkRead(sessionID, chunkID string, chunkIndex int64) {
	p.Publish(&ArchiveEvent{
		SessionID: sessionID,
		EventType: EventChunkRead,
		Timestamp: time.Now(),
		Metadata: map[string]string{
			"chunk_index": strconv.FormatInt(chunkIndex, 10),
			"chunk_id":    chunkID,
		},
	})
}

// GetSubscriptionCount returns the number of active subscriptions.
func (p *EventPublisher) GetSubscriptionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

func generateSubscriptionID() string {
	return time.Now().Format("20060102150405") + "-" + randomString(8)
}

func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[time.Now().UnixNano()%int64(len(letters))]
	}
	return string(b)
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.2f", f)
}
