package manager

import (
	"sync"
	"time"
)

// State is the lifecycle state of an archive write or read session.
type State int

const (
	StatePending State = iota + 1
	StateActive
	StatePaused
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	case StatePaused:
		return "PAUSED"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Direction distinguishes producing an archive (running records through
// the chunk buffer) from consuming one (running chunks through the
// robust unpacker).
type Direction int

const (
	DirectionWrite Direction = iota + 1
	DirectionRead
)

func (d Direction) String() string {
	switch d {
	case DirectionWrite:
		return "WRITE"
	case DirectionRead:
		return "READ"
	default:
		return "UNKNOWN"
	}
}

// Session tracks one archive write or read in progress: which manifest
// it belongs to, how many of its chunks have been produced or consumed
// so far, and at what throughput.
type Session struct {
	ID         string
	ArchiveID  string // manifest session id this Session writes to or reads from
	Direction  Direction
	State      State
	TotalChunks int64 // 0 until known: a write session learns this only once its chunk buffer has flushed
	TargetBytes int64 // 0 until known, same caveat as TotalChunks

	ChunksProcessed int64
	BytesProcessed  int64
	StartTime       time.Time
	UpdateTime      time.Time
	ErrorMessage    string
	Metadata        map[string]string

	throughputSamples  []float64
	lastUpdateTime     time.Time
	lastBytesProcessed int64

	mu sync.RWMutex
}

// NewSession creates a pending session. totalChunks/targetBytes may be 0
// if not yet known (a write session learns its chunk count only once its
// buffer has flushed); call SetTotals once it is.
func NewSession(id, archiveID string, direction Direction, totalChunks, targetBytes int64) *Session {
	now := time.Now()
	return &Session{
		ID:                 id,
		ArchiveID:          archiveID,
		Direction:          direction,
		State:              StatePending,
		TotalChunks:        totalChunks,
		TargetBytes:        targetBytes,
		StartTime:          now,
		UpdateTime:         now,
		Metadata:           make(map[string]string),
		throughputSamples:  make([]float64, 0, 10),
		lastUpdateTime:     now,
	}
}

// SetTotals records the chunk count and byte size once known (for a
// write session, once its final flush has produced a manifest; for a
// read session, usually known from the start from the manifest).
func (s *Session) SetTotals(totalChunks, targetBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalChunks = totalChunks
	s.TargetBytes = targetBytes
}

// UpdateProgress records that bytesProcessed/chunksProcessed have been
// reached so far, sampling the instantaneous throughput.
func (s *Session) UpdateProgress(bytesProcessed, chunksProcessed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	duration := now.Sub(s.lastUpdateTime).Seconds()

	if duration > 0 {
		bytesDelta := bytesProcessed - s.lastBytesProcessed
		rate := float64(bytesDelta) / duration / 1024 / 1024 * 8 // Mbps

		s.throughputSamples = append(s.throughputSamples, rate)
		if len(s.throughputSamples) > 10 {
			s.throughputSamples = s.throughputSamples[1:]
		}
	}

	s.BytesProcessed = bytesProcessed
	s.ChunksProcessed = chunksProcessed
	s.UpdateTime = now
	s.lastUpdateTime = now
	s.lastBytesProcessed = bytesProcessed
}

// GetThroughput returns the current rolling-average throughput in Mbps.
func (s *Session) GetThroughput() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.throughputSamples) == 0 {
		return 0
	}

	var sum float64
	for _, rate := range s.throughputSamples {
		sum += rate
	}
	return sum / float64(len(s.throughputSamples))
}

// GetProgressPercent returns completion percentage by chunk count.
func (s *Session) GetProgressPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.TotalChunks == 0 {
		return 0
	}
	return float64(s.ChunksProcessed) / float64(s.TotalChunks) * 100
}

// GetEstimatedTimeRemaining returns estimated seconds until completion,
// or 0 if the target size or current throughput is unknown.
func (s *Session) GetEstimatedTimeRemaining() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rate := s.GetThroughput()
	if rate == 0 || s.TargetBytes == 0 {
		return 0
	}

	remainingBytes := s.TargetBytes - s.BytesProcessed
	remainingSeconds := float64(remainingBytes) / (rate * 1024 * 1024 / 8)
	return int64(remainingSeconds)
}

// validTransitions enumerates the lifecycle graph: pending archive
// sessions start, may pause and resume, and end either completed or
// failed; terminal states never transition again.
var validTransitions = map[State][]State{
	StatePending:   {StateActive, StateFailed},
	StateActive:    {StatePaused, StateCompleted, StateFailed},
	StatePaused:    {StateActive, StateFailed},
	StateCompleted: {},
	StateFailed:    {},
}

// TransitionTo moves the session to newState if the transition is legal,
// recording errMsg (if non-empty) on the way.
func (s *Session) TransitionTo(newState State, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	isValid := false
	for _, allowed := range validTransitions[s.State] {
		if allowed == newState {
			isValid = true
			break
		}
	}
	if !isValid {
		return ErrInvalidStateTransition
	}

	s.State = newState
	s.UpdateTime = time.Now()
	if errMsg != "" {
		s.ErrorMessage = errMsg
	}
	return nil
}

// GetState returns the current state (thread-safe).
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}
