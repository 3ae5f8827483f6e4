package chunkstore

import (
	"context"

	"github.com/pravinbhuari/archivestream/internal/chunkbuffer"
	"github.com/pravinbhuari/archivestream/internal/ratelimit"
)

// ThrottledSink wraps another chunkbuffer.Sink, gating each AddChunk call
// behind a byte-rate token bucket so a burst of large chunks cannot
// saturate a slow downstream collaborator (a remote object store, a
// rate-limited API).
type ThrottledSink struct {
	next   chunkbuffer.Sink
	bucket *ratelimit.TokenBucket
	ctx    context.Context
}

// NewThrottledSink returns a sink that waits for bucket to admit
// len(data) tokens before forwarding each chunk to next. ctx bounds how
// long AddChunk is willing to wait.
func NewThrottledSink(ctx context.Context, next chunkbuffer.Sink, bucket *ratelimit.TokenBucket) *ThrottledSink {
	return &ThrottledSink{next: next, bucket: bucket, ctx: ctx}
}

// AddChunk implements chunkbuffer.Sink.
func (t *ThrottledSink) AddChunk(data []byte) (id string, storedSize, size int, err error) {
	if err := t.bucket.Wait(t.ctx, len(data)); err != nil {
		return "", 0, 0, err
	}
	return t.next.AddChunk(data)
}
