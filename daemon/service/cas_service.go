// Package service orchestrates one archive write or read end to end:
// wiring the chunk buffer (CB) or robust unpacker (RU) to a chunk sink,
// applying the outer retry policy the chunk buffer itself deliberately
// leaves out, and publishing a chunk-written or chunk-read event for
// each chunk that lands or is fetched.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pravinbhuari/archivestream/daemon/manager"
	"github.com/pravinbhuari/archivestream/internal/chunkbuffer"
	"github.com/pravinbhuari/archivestream/internal/chunker"
	"github.com/pravinbhuari/archivestream/internal/chunkstore"
	"github.com/pravinbhuari/archivestream/internal/observability"
	"github.com/pravinbhuari/archivestream/internal/record"
	"github.com/pravinbhuari/archivestream/internal/unpacker"
)

// RetryPolicy controls how many times, and how long to wait between
// attempts, the orchestrator resubmits a chunk to a sink that failed.
// The chunk buffer itself never retries a failed AddChunk; that policy
// belongs here, one layer up, where it can be tuned per backend without
// touching buffering logic.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy retries transient sink failures a handful of times
// with a short fixed backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 200 * time.Millisecond}
}

// RetryingSink wraps a chunkbuffer.Sink, resubmitting a chunk on failure
// per policy before giving up, and publishing a chunk-written event for
// each chunk that lands.
type RetryingSink struct {
	next      chunkbuffer.Sink
	policy    RetryPolicy
	events    *EventPublisher
	sessionID string
	nextIndex int64

	// Metrics, if set, receives chunk-write and retry counts. Nil
	// disables metrics without affecting retry or event behavior.
	Metrics *observability.Metrics
}

// NewRetryingSink wraps next with policy, announcing successful
// submissions on events (which may be nil to disable publishing).
func NewRetryingSink(next chunkbuffer.Sink, policy RetryPolicy, events *EventPublisher, sessionID string) *RetryingSink {
	return &RetryingSink{next: next, policy: policy, events: events, sessionID: sessionID}
}

// AddChunk implements chunkbuffer.Sink.
func (r *RetryingSink) AddChunk(data []byte) (id string, storedSize, size int, err error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		id, storedSize, size, err = r.next.AddChunk(data)
		if err == nil {
			index := r.nextIndex
			r.nextIndex++
			if r.events != nil {
				r.events.PublishChunkWritten(r.sessionID, id, index)
			}
			if r.Metrics != nil {
				r.Metrics.RecordChunkWritten(size)
				if attempt > 1 {
					r.Metrics.RecordChunkSubmitRetry(true)
				}
			}
			return id, storedSize, size, nil
		}
		lastErr = err
		if attempt < r.policy.MaxAttempts {
			time.Sleep(r.policy.Backoff)
		}
	}
	if r.Metrics != nil {
		r.Metrics.RecordChunkSubmitRetry(false)
	}
	return "", 0, 0, fmt.Errorf("chunk submission failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}

// ArchiveWriter drives an archive write: records go in one at a time,
// the chunk buffer decides when enough has accumulated to flush, and
// Close produces the final manifest once every record has been
// submitted. It owns a manager.Session tracking its own lifecycle and
// throughput, so a caller can persist or inspect progress without
// reaching into the chunk buffer directly.
type ArchiveWriter struct {
	cb         *chunkbuffer.ChunkBuffer
	sessionID  string
	hashAlgo   string
	session    *manager.Session
	bytesTotal int64
}

// NewArchiveWriter returns a writer that stages records through a chunk
// buffer targeting chunkTarget bytes per chunk, submitting to sink.
func NewArchiveWriter(sessionID string, sink chunkbuffer.Sink, chunkTarget int) *ArchiveWriter {
	session := manager.NewSession(sessionID, sessionID, manager.DirectionWrite, 0, 0)
	if err := session.TransitionTo(manager.StateActive, ""); err != nil {
		panic(err) // a fresh session can always move Pending -> Active
	}
	return &ArchiveWriter{
		cb:        chunkbuffer.New(sink, chunkTarget),
		sessionID: sessionID,
		hashAlgo:  "BLAKE3",
		session:   session,
	}
}

// Session exposes the writer's session state, e.g. so a caller can
// persist it across restarts via manager.PersistentStore or register it
// in a manager.SessionStore alongside other in-flight sessions.
func (w *ArchiveWriter) Session() *manager.Session { return w.session }

// WriteRecord encodes v and appends it to the chunk buffer, flushing any
// chunk the buffer decides is ready.
func (w *ArchiveWriter) WriteRecord(v record.Value) error {
	encoded, err := record.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := w.cb.Add(encoded); err != nil {
		w.session.TransitionTo(manager.StateFailed, err.Error())
		return err
	}
	if err := w.cb.Flush(false); err != nil {
		w.session.TransitionTo(manager.StateFailed, err.Error())
		return err
	}
	w.bytesTotal += int64(len(encoded))
	w.session.UpdateProgress(w.bytesTotal, int64(len(w.cb.Chunks)))
	return nil
}

// Close flushes every remaining buffered record and builds the final
// manifest for the session.
func (w *ArchiveWriter) Close() (*chunker.Manifest, error) {
	if err := w.cb.Flush(true); err != nil {
		w.session.TransitionTo(manager.StateFailed, err.Error())
		return nil, fmt.Errorf("final flush: %w", err)
	}
	manifest, err := chunker.BuildManifest(w.sessionID, w.hashAlgo, w.cb.Chunks)
	if err != nil {
		w.session.TransitionTo(manager.StateFailed, err.Error())
		return nil, err
	}
	w.session.SetTotals(int64(manifest.ChunkCount), w.bytesTotal)
	w.session.UpdateProgress(w.bytesTotal, int64(manifest.ChunkCount))
	w.session.TransitionTo(manager.StateCompleted, "")
	return manifest, nil
}

// ChunkFetcher retrieves one chunk's bytes by content id, as when
// reading chunks back out of a chunk sink.
type ChunkFetcher func(id string) ([]byte, error)

// ArchiveReader drives an archive read: chunks are fetched from a sink
// in manifest order and fed to the robust unpacker, which resyncs past
// any chunk the orchestrator gives up retrieving. It owns a
// manager.Session tracking its own lifecycle and throughput, mirroring
// ArchiveWriter.
type ArchiveReader struct {
	u         *unpacker.Unpacker
	presence  *manager.ChunkPresence
	policy    RetryPolicy
	events    *EventPublisher
	sessionID string
	session   *manager.Session
	bytesRead int64

	// Metrics, if set, receives chunk-read and resync counts. Nil
	// disables metrics without affecting retry or event behavior.
	Metrics *observability.Metrics
}

// NewArchiveReader returns a reader tracking presence against totalChunks
// and publishing chunk-read events on events (nil to disable).
func NewArchiveReader(sessionID string, validator unpacker.Validator, totalChunks int64, policy RetryPolicy, events *EventPublisher) *ArchiveReader {
	session := manager.NewSession(sessionID, sessionID, manager.DirectionRead, totalChunks, 0)
	if err := session.TransitionTo(manager.StateActive, ""); err != nil {
		panic(err) // a fresh session can always move Pending -> Active
	}
	return &ArchiveReader{
		u:         unpacker.New(validator),
		presence:  manager.NewChunkPresence(sessionID, totalChunks),
		policy:    policy,
		events:    events,
		sessionID: sessionID,
		session:   session,
	}
}

// Presence exposes the reader's chunk-presence tracker, e.g. so a caller
// can persist it across restarts via manager.PresenceStore.
func (r *ArchiveReader) Presence() *manager.ChunkPresence { return r.presence }

// Session exposes the reader's session state, e.g. so a caller can
// persist it across restarts via manager.PersistentStore.
func (r *ArchiveReader) Session() *manager.Session { return r.session }

// RestorePresence replaces the reader's chunk-presence tracker with cp,
// typically one reloaded from a manager.PresenceStore. Because chunk
// buffer chunks never split a record across a boundary, a fresh unpacker
// fed only the chunks cp doesn't yet have reconstructs the remaining
// records correctly, without needing to replay chunks already written to
// a prior run's output.
func (r *ArchiveReader) RestorePresence(cp *manager.ChunkPresence) {
	r.presence = cp
	fetched, total := cp.GetProgress()
	r.session.SetTotals(total, 0)
	r.session.UpdateProgress(r.bytesRead, fetched)
}

// FetchChunk retrieves chunk chunkID (at index idx in the manifest) via
// fetch, retrying per policy. On success the bytes are fed to the
// unpacker and marked present. On exhausted retries the unpacker is
// forced into Resyncing, since the orchestrator now knows for certain
// that position in the stream is missing, rather than just slow.
func (r *ArchiveReader) FetchChunk(idx int64, chunkID string, fetch ChunkFetcher) error {
	if r.presence.HasChunk(idx) {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		data, err := fetch(chunkID)
		if err == nil {
			r.u.Feed(data)
			if err := r.presence.MarkFetched(idx); err != nil {
				return err
			}
			if r.events != nil {
				r.events.PublishChunkRead(r.sessionID, chunkID, idx)
			}
			if r.Metrics != nil {
				r.Metrics.RecordChunkRead(len(data))
			}
			r.bytesRead += int64(len(data))
			fetchedCount, _ := r.presence.GetProgress()
			r.session.UpdateProgress(r.bytesRead, fetchedCount)
			return nil
		}
		lastErr = err
		if attempt < r.policy.MaxAttempts {
			time.Sleep(r.policy.Backoff)
		}
	}

	r.u.Resync()
	if r.Metrics != nil {
		r.Metrics.RecordResync("chunk_unavailable")
	}
	return fmt.Errorf("chunk %d (%s) unavailable after %d attempts: %w", idx, chunkID, r.policy.MaxAttempts, lastErr)
}

// Next pulls the next decoded record out of the stream fed so far, if
// one is ready.
func (r *ArchiveReader) Next() (record.Value, bool) { return r.u.Next() }

// Finish transitions the reader's session to its terminal state: Completed
// if every chunk was recovered, Failed (recording how many were missing)
// otherwise. It returns the session so a caller can persist the final
// state in the same call.
func (r *ArchiveReader) Finish() *manager.Session {
	fetched, total := r.presence.GetProgress()
	if fetched == total {
		r.session.TransitionTo(manager.StateCompleted, "")
	} else {
		r.session.TransitionTo(manager.StateFailed, fmt.Sprintf("recovered %d/%d chunks", fetched, total))
	}
	return r.session
}

// CollectLiveChunkIDs scans manifestDir for manifest JSON files (as
// written by PersistManifest) and returns the union of every chunk id
// they reference. The result is suitable as the live set passed to
// chunkstore.BoltSink.GC: a chunk referenced by any retained manifest
// must survive the sweep.
func CollectLiveChunkIDs(manifestDir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(manifestDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("read manifest directory: %w", err)
	}

	live := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(manifestDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", entry.Name(), err)
		}

		var m chunker.Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", entry.Name(), err)
		}
		for _, c := range m.Chunks {
			live[c.Hash] = struct{}{}
		}
	}
	return live, nil
}

// PersistManifest writes m to manifestDir as a JSON file named after its
// session id, so a later GC pass can find it via CollectLiveChunkIDs.
func PersistManifest(manifestDir string, m *chunker.Manifest) error {
	if err := os.MkdirAll(manifestDir, 0o755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	path := filepath.Join(manifestDir, m.SessionID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// StartChunkGCLoop periodically sweeps sink for chunks no longer
// referenced by any manifest retained under manifestDir. It returns a
// stop function and a channel any sweep errors are reported on
// (buffered by one; a slow or absent reader never blocks the loop).
// metrics may be nil to disable sweep metrics.
func StartChunkGCLoop(ctx context.Context, sink *chunkstore.BoltSink, manifestDir string, interval time.Duration, metrics *observability.Metrics) (stop func(), errs <-chan error) {
	errCh := make(chan error, 1)
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				start := time.Now()
				live, err := CollectLiveChunkIDs(manifestDir)
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					continue
				}
				removed, err := sink.GC(live)
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					continue
				}
				if metrics != nil {
					metrics.RecordChunkGCSweep(time.Since(start).Seconds(), removed)
				}
			}
		}
	}()

	return func() { close(done) }, errCh
}
