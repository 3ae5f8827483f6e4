package manager

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// ChunkPresence tracks which of a manifest's chunks have already been
// fetched from the sink while reading an archive. A reader consults it
// before asking the robust unpacker to resync: if the chunk that would
// fill a gap is actually present, a resync is unnecessary; if it is
// genuinely missing, GetMissing tells the orchestrator which index to
// retry or skip.
type ChunkPresence struct {
	sessionID   string
	totalChunks int64
	bits        []byte
	present     int64
	mu          sync.RWMutex
}

// NewChunkPresence creates presence tracking for a session expected to
// fetch totalChunks chunks.
func NewChunkPresence(sessionID string, totalChunks int64) *ChunkPresence {
	bitmapSize := (totalChunks + 7) / 8

	return &ChunkPresence{
		sessionID:   sessionID,
		totalChunks: totalChunks,
		bits:        make([]byte, bitmapSize),
	}
}

// MarkFetched records that chunk chunkIndex has been fetched from the
// sink.
func (cp *ChunkPresence) MarkFetched(chunkIndex int64) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if chunkIndex < 0 || chunkIndex >= cp.totalChunks {
		return fmt.Errorf("chunk index out of range: %d", chunkIndex)
	}

	byteIndex := chunkIndex / 8
	bitIndex := chunkIndex % 8

	if cp.bits[byteIndex]&(1<<bitIndex) != 0 {
		return nil // already marked
	}

	cp.bits[byteIndex] |= 1 << bitIndex
	cp.present++
	return nil
}

// HasChunk reports whether chunkIndex has been fetched.
func (cp *ChunkPresence) HasChunk(chunkIndex int64) bool {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	if chunkIndex < 0 || chunkIndex >= cp.totalChunks {
		return false
	}

	byteIndex := chunkIndex / 8
	bitIndex := chunkIndex % 8
	return cp.bits[byteIndex]&(1<<bitIndex) != 0
}

// GetMissing returns the indices of chunks not yet fetched.
func (cp *ChunkPresence) GetMissing() []int64 {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	var missing []int64
	for i := int64(0); i < cp.totalChunks; i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if cp.bits[byteIndex]&(1<<bitIndex) == 0 {
			missing = append(missing, i)
		}
	}
	return missing
}

// GetFetched returns the indices of chunks already fetched.
func (cp *ChunkPresence) GetFetched() []int64 {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	var fetched []int64
	for i := int64(0); i < cp.totalChunks; i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if cp.bits[byteIndex]&(1<<bitIndex) != 0 {
			fetched = append(fetched, i)
		}
	}
	return fetched
}

// GetProgress returns how many of the total chunks have been fetched.
func (cp *ChunkPresence) GetProgress() (fetched, total int64) {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.present, cp.totalChunks
}

// IsComplete reports whether every chunk has been fetched.
func (cp *ChunkPresence) IsComplete() bool {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.present == cp.totalChunks
}

// Clear resets all presence bits, as when restarting a read from scratch.
func (cp *ChunkPresence) Clear() {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	for i := range cp.bits {
		cp.bits[i] = 0
	}
	cp.present = 0
}

// Serialize returns the presence bitset for persistence.
func (cp *ChunkPresence) Serialize() []byte {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	data := make([]byte, len(cp.bits))
	copy(data, cp.bits)
	return data
}

// Deserialize loads a presence bitset previously returned by Serialize.
func (cp *ChunkPresence) Deserialize(data []byte) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if len(data) != len(cp.bits) {
		return fmt.Errorf("presence bitset size mismatch: expected %d, got %d", len(cp.bits), len(data))
	}

	copy(cp.bits, data)

	cp.present = 0
	for i := int64(0); i < cp.totalChunks; i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if cp.bits[byteIndex]&(1<<bitIndex) != 0 {
			cp.present++
		}
	}
	return nil
}

// PresenceStore persists ChunkPresence bitsets across process restarts,
// so a resumed read doesn't have to refetch chunks it already has.
type PresenceStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewPresenceStore wraps an already-initialized database handle.
func NewPresenceStore(db *sql.DB) *PresenceStore {
	return &PresenceStore{db: db}
}

// Save persists a presence bitset.
func (ps *PresenceStore) Save(cp *ChunkPresence) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO chunk_presence
		(session_id, presence_data, chunks_present, last_updated)
		VALUES (?, ?, ?, ?)
	`

	_, err := ps.db.Exec(query,
		cp.sessionID,
		cp.Serialize(),
		cp.present,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save chunk presence: %w", err)
	}
	return nil
}

// Load retrieves a presence bitset for sessionID, expecting totalChunks
// chunks.
func (ps *PresenceStore) Load(sessionID string, totalChunks int64) (*ChunkPresence, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var (
		data    []byte
		present int64
		updated time.Time
	)

	query := `
		SELECT presence_data, chunks_present, last_updated
		FROM chunk_presence
		WHERE session_id = ?
	`

	err := ps.db.QueryRow(query, sessionID).Scan(&data, &present, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrPresenceNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load chunk presence: %w", err)
	}

	cp := NewChunkPresence(sessionID, totalChunks)
	if err := cp.Deserialize(data); err != nil {
		return nil, fmt.Errorf("failed to deserialize chunk presence: %w", err)
	}
	return cp, nil
}

// MarkFetchedPersistent marks a chunk fetched in memory and immediately
// persists the updated bitset.
func (ps *PresenceStore) MarkFetchedPersistent(cp *ChunkPresence, chunkIndex int64) error {
	if err := cp.MarkFetched(chunkIndex); err != nil {
		return err
	}
	return ps.Save(cp)
}

// Delete removes a session's presence bitset.
func (ps *PresenceStore) Delete(sessionID string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	result, err := ps.db.Exec("DELETE FROM chunk_presence WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete chunk presence: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPresenceNotFound
	}
	return nil
}
