package manager

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrDatabaseNotInitialized = errors.New("database not initialized")
	ErrPresenceNotFound       = errors.New("chunk presence not found")
)

// PersistentStore manages SQLite-backed session and chunk-presence
// storage: session rows record archive writes and reads across process
// restarts, and chunk-presence bitsets let a read resume.
type PersistentStore struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// NewPersistentStore opens (creating if absent) a SQLite database at
// dbPath and ensures its schema exists.
func NewPersistentStore(dbPath string) (*PersistentStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &PersistentStore{
		db:   db,
		path: dbPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (ps *PersistentStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS archive_sessions (
			session_id TEXT PRIMARY KEY,
			archive_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			state TEXT NOT NULL,
			total_chunks INTEGER NOT NULL DEFAULT 0,
			target_bytes INTEGER NOT NULL DEFAULT 0,
			chunks_processed INTEGER NOT NULL DEFAULT 0,
			bytes_processed INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			metadata TEXT
		);

		CREATE TABLE IF NOT EXISTS chunk_presence (
			session_id TEXT PRIMARY KEY,
			presence_data BLOB NOT NULL,
			chunks_present INTEGER NOT NULL DEFAULT 0,
			last_updated TIMESTAMP NOT NULL,
			FOREIGN KEY (session_id) REFERENCES archive_sessions(session_id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_state ON archive_sessions(state);
		CREATE INDEX IF NOT EXISTS idx_presence_updated ON chunk_presence(last_updated);
	`

	if _, err := ps.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var version int
	err := ps.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := ps.db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to query schema version: %w", err)
	}

	return nil
}

// SaveSession persists a session to the database.
func (ps *PersistentStore) SaveSession(session *Session) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	metadataJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO archive_sessions
		(session_id, archive_id, direction, state, total_chunks, target_bytes,
		 chunks_processed, bytes_processed, error_message, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = ps.db.Exec(query,
		session.ID,
		session.ArchiveID,
		session.Direction.String(),
		session.State.String(),
		session.TotalChunks,
		session.TargetBytes,
		session.ChunksProcessed,
		session.BytesProcessed,
		session.ErrorMessage,
		session.StartTime,
		session.UpdateTime,
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// LoadSession retrieves a session from the database.
func (ps *PersistentStore) LoadSession(sessionID string) (*Session, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var (
		archiveID       string
		directionStr    string
		stateStr        string
		totalChunks     int64
		targetBytes     int64
		chunksProcessed int64
		bytesProcessed  int64
		errorMessage    sql.NullString
		createdAt       time.Time
		updatedAt       time.Time
		metadataJSON    string
	)

	query := `
		SELECT archive_id, direction, state, total_chunks, target_bytes,
		       chunks_processed, bytes_processed, error_message, created_at, updated_at, metadata
		FROM archive_sessions
		WHERE session_id = ?
	`

	err := ps.db.QueryRow(query, sessionID).Scan(
		&archiveID, &directionStr, &stateStr, &totalChunks, &targetBytes,
		&chunksProcessed, &bytesProcessed, &errorMessage, &createdAt, &updatedAt, &metadataJSON,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var direction Direction
	switch directionStr {
	case "WRITE":
		direction = DirectionWrite
	case "READ":
		direction = DirectionRead
	default:
		return nil, fmt.Errorf("invalid direction: %s", directionStr)
	}

	var state State
	switch stateStr {
	case "PENDING":
		state = StatePending
	case "ACTIVE":
		state = StateActive
	case "PAUSED":
		state = StatePaused
	case "COMPLETED":
		state = StateCompleted
	case "FAILED":
		state = StateFailed
	default:
		return nil, fmt.Errorf("invalid state: %s", stateStr)
	}

	session := &Session{
		ID:              sessionID,
		ArchiveID:       archiveID,
		Direction:       direction,
		State:           state,
		TotalChunks:     totalChunks,
		TargetBytes:     targetBytes,
		ChunksProcessed: chunksProcessed,
		BytesProcessed:  bytesProcessed,
		ErrorMessage:    errorMessage.String,
		StartTime:       createdAt,
		UpdateTime:      updatedAt,
		Metadata:        make(map[string]string),
	}

	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &session.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return session, nil
}

// UpdateSessionState updates only the session state.
func (ps *PersistentStore) UpdateSessionState(sessionID string, newState State) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	query := `UPDATE archive_sessions SET state = ?, updated_at = ? WHERE session_id = ?`
	result, err := ps.db.Exec(query, newState.String(), time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// DeleteSession removes a session and its chunk presence from the database.
func (ps *PersistentStore) DeleteSession(sessionID string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	tx, err := ps.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunk_presence WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete chunk presence: %w", err)
	}

	result, err := tx.Exec("DELETE FROM archive_sessions WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListSessions returns sessions matching an optional state filter.
func (ps *PersistentStore) ListSessions(filterState *State, limit, offset int) ([]*Session, int, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var sessions []*Session
	var query string
	var args []interface{}

	if filterState != nil {
		query = "SELECT session_id FROM archive_sessions WHERE state = ? ORDER BY created_at DESC LIMIT ? OFFSET ?"
		args = []interface{}{filterState.String(), limit, offset}
	} else {
		query = "SELECT session_id FROM archive_sessions ORDER BY created_at DESC LIMIT ? OFFSET ?"
		args = []interface{}{limit, offset}
	}

	rows, err := ps.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, 0, fmt.Errorf("failed to scan session ID: %w", err)
		}

		session, err := ps.LoadSession(sessionID)
		if err != nil {
			continue
		}
		sessions = append(sessions, session)
	}

	var total int
	var countQuery string
	var countArgs []interface{}
	if filterState != nil {
		countQuery = "SELECT COUNT(*) FROM archive_sessions WHERE state = ?"
		countArgs = []interface{}{filterState.String()}
	} else {
		countQuery = "SELECT COUNT(*) FROM archive_sessions"
	}
	if err := ps.db.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	return sessions, total, nil
}

// Close closes the database connection.
func (ps *PersistentStore) Close() error {
	if ps.db != nil {
		return ps.db.Close()
	}
	return nil
}

// DB returns the underlying database handle, so a PresenceStore can share
// the same schema/connection instead of opening a second handle onto the
// same file.
func (ps *PersistentStore) DB() *sql.DB {
	return ps.db
}
