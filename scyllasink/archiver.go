package scyllasink

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Archiver mirrors every batch a shard flushes to object storage, adapted
// from the teacher's Uploader/ChunkManager: where the teacher uploads
// rotated log files from disk, Archiver instead serializes the in-memory
// batch directly and uploads it, skipping the local file stage entirely
// since the batch already lives in the shard's buffer.
type Archiver struct {
	config   ArchiveConfig
	client   *storage.Client
	chunkMgr *chunkManager

	uploadChan chan archiveJob
	dropped    atomic.Int64
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
}

type archiveJob struct {
	shardId ShardId
	period  ShardPeriod
	seq     int64
	events  []BlockchainEvent
}

// NewArchiver creates a GCS-backed archiver. Call Start to begin draining
// submitted batches, and Stop to drain and close down.
func NewArchiver(ctx context.Context, config ArchiveConfig) (*Archiver, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	archiveCtx, cancel := context.WithCancel(ctx)

	client, err := storage.NewClient(archiveCtx, option.WithGRPCConnectionPool(config.GRPCPoolSize))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("scyllasink: archiver: creating storage client: %w", err)
	}

	return &Archiver{
		config:     config,
		client:     client,
		chunkMgr:   newChunkManager(config.MaxChunksPerCompose),
		uploadChan: make(chan archiveJob, config.ChannelBufferSize),
		ctx:        archiveCtx,
		cancel:     cancel,
	}, nil
}

// Start begins the background upload worker.
func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.uploadWorker()
}

// Stop drains queued batches, then tears down the storage client. Safe to
// call more than once.
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() {
		close(a.uploadChan)
		a.wg.Wait()
		a.cancel()
		a.client.Close()
	})
}

// Submit enqueues a flushed batch for archival. Never blocks the caller (the
// shard daemon): if the channel is full the batch is dropped and counted,
// the same best-effort, dropped-on-full behavior as the teacher's own GCS
// upload path, rather than letting a stalled archiver stall the shard.
func (a *Archiver) Submit(shardID ShardId, period ShardPeriod, seq int64, events []BlockchainEvent) {
	select {
	case a.uploadChan <- archiveJob{shardId: shardID, period: period, seq: seq, events: events}:
	default:
		a.dropped.Add(1)
		log.Printf("[WARN] archiver: upload channel full, dropping shard %d period %d seq %d", shardID, period, seq)
	}
}

// Dropped returns the count of batches dropped because the upload channel
// was full.
func (a *Archiver) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Archiver) uploadWorker() {
	defer a.wg.Done()
	for job := range a.uploadChan {
		if err := a.uploadWithRetry(job); err != nil {
			log.Printf("[ERROR] archiver: giving up on shard %d period %d seq %d: %v", job.shardId, job.period, job.seq, err)
		}
	}
}

func (a *Archiver) uploadWithRetry(job archiveJob) error {
	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-a.ctx.Done():
				return fmt.Errorf("archiver stopped")
			case <-time.After(a.config.RetryDelay):
			}
		}

		if err := a.upload(job); err != nil {
			lastErr = err
			log.Printf("[WARN] archiver: upload attempt %d/%d failed for shard %d period %d: %v",
				attempt+1, a.config.MaxRetries+1, job.shardId, job.period, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("upload failed after %d attempts: %w", a.config.MaxRetries+1, lastErr)
}

func (a *Archiver) upload(job archiveJob) error {
	buf := encodeBatch(job.events)
	object := a.objectName(job)
	return a.uploadParallel(object, buf)
}

func (a *Archiver) objectName(job archiveJob) string {
	name := fmt.Sprintf("shard-%d/period-%d/seq-%d.batch", job.shardId, job.period, job.seq)
	if a.config.ObjectPrefix != "" {
		return a.config.ObjectPrefix + name
	}
	return name
}

// encodeBatch renders events into a length-prefixed record stream: one
// varint-free fixed header (offset, slot, event type, payload length) per
// event followed by its raw column bytes. It exists purely so the archived
// object is self-describing without depending on gocql at read time.
func encodeBatch(events []BlockchainEvent) []byte {
	var buf bytes.Buffer
	for _, e := range events {
		var hdr [1 + 8 + 8 + 8]byte
		hdr[0] = byte(e.EventType)
		binary.LittleEndian.PutUint64(hdr[1:9], uint64(e.Offset))
		binary.LittleEndian.PutUint64(hdr[9:17], uint64(e.Slot))

		payload := encodeEventPayload(e)
		binary.LittleEndian.PutUint64(hdr[17:25], uint64(len(payload)))

		buf.Write(hdr[:])
		buf.Write(payload)
	}
	return buf.Bytes()
}

func encodeEventPayload(e BlockchainEvent) []byte {
	var buf bytes.Buffer
	if e.Account != nil {
		a := e.Account
		writeLenPrefixed(&buf, a.Pubkey)
		writeLenPrefixed(&buf, a.Owner)
		writeLenPrefixed(&buf, a.Data)
		writeLenPrefixed(&buf, a.TxnSignature)
	}
	if e.Tx != nil {
		t := e.Tx
		writeLenPrefixed(&buf, t.Signature)
		writeLenPrefixed(&buf, t.RecentBlockhash)
		writeLenPrefixed(&buf, t.Instructions)
		writeLenPrefixed(&buf, t.Meta)
	}
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBytes [8]byte
	binary.LittleEndian.PutUint64(lenBytes[:], uint64(len(b)))
	buf.Write(lenBytes[:])
	buf.Write(b)
}

// uploadParallel uploads buf in ChunkSize-sized temporary objects
// concurrently and composes them into object, the same parallel-chunk +
// compose strategy the teacher's Uploader uses for rotated files.
func (a *Archiver) uploadParallel(object string, buf []byte) error {
	chunkSize := a.config.ChunkSize
	numChunks := (len(buf) + chunkSize - 1) / chunkSize
	if numChunks == 0 {
		numChunks = 1
	}

	uploadID := fmt.Sprintf("%p-%d", buf, len(buf))
	tempPrefix := fmt.Sprintf("%s.tmp.%s", object, uploadID)

	type chunkResult struct {
		object string
		err    error
	}
	results := make([]chunkResult, numChunks)

	var wg sync.WaitGroup
	for i := 0; i < numChunks; i++ {
		offset := i * chunkSize
		end := offset + chunkSize
		if end > len(buf) {
			end = len(buf)
		}
		if offset >= len(buf) {
			break
		}

		wg.Add(1)
		go func(idx int, chunkData []byte) {
			defer wg.Done()
			chunkObject := fmt.Sprintf("%s.chunk.%d", tempPrefix, idx)

			w := a.client.Bucket(a.config.Bucket).Object(chunkObject).NewWriter(a.ctx)
			w.ContentType = "application/octet-stream"
			if _, err := w.Write(chunkData); err != nil {
				results[idx] = chunkResult{err: fmt.Errorf("write: %w", err)}
				return
			}
			if err := w.Close(); err != nil {
				results[idx] = chunkResult{err: fmt.Errorf("close: %w", err)}
				return
			}
			results[idx] = chunkResult{object: chunkObject}
		}(i, buf[offset:end])
	}
	wg.Wait()

	chunkObjects := make([]string, 0, numChunks)
	for _, r := range results {
		if r.err != nil {
			a.chunkMgr.cleanup(a.ctx, a.client, a.config.Bucket, chunkObjects)
			return r.err
		}
		chunkObjects = append(chunkObjects, r.object)
	}

	if err := a.chunkMgr.compose(a.ctx, a.client, a.config.Bucket, object, chunkObjects); err != nil {
		a.chunkMgr.cleanup(a.ctx, a.client, a.config.Bucket, chunkObjects)
		return fmt.Errorf("compose: %w", err)
	}

	a.chunkMgr.cleanup(a.ctx, a.client, a.config.Bucket, chunkObjects)
	return nil
}

// chunkManager composes GCS objects honoring the 32-object-per-compose
// limit, recursing through intermediate objects above that fan-in.
type chunkManager struct {
	maxChunksPerCompose int
}

func newChunkManager(maxChunksPerCompose int) *chunkManager {
	if maxChunksPerCompose <= 0 {
		maxChunksPerCompose = 32
	}
	return &chunkManager{maxChunksPerCompose: maxChunksPerCompose}
}

func (cm *chunkManager) compose(ctx context.Context, client *storage.Client, bucket, object string, chunks []string) error {
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks to compose")
	}
	if len(chunks) <= cm.maxChunksPerCompose {
		return cm.singleCompose(ctx, client, bucket, object, chunks)
	}

	var intermediates []string
	for i := 0; i < len(chunks); i += cm.maxChunksPerCompose {
		end := i + cm.maxChunksPerCompose
		if end > len(chunks) {
			end = len(chunks)
		}
		intermediateObj := fmt.Sprintf("%s.intermediate.%d", object, i/cm.maxChunksPerCompose)
		if err := cm.singleCompose(ctx, client, bucket, intermediateObj, chunks[i:end]); err != nil {
			cm.cleanup(ctx, client, bucket, intermediates)
			return fmt.Errorf("composing intermediate %s: %w", intermediateObj, err)
		}
		intermediates = append(intermediates, intermediateObj)
	}

	defer cm.cleanup(ctx, client, bucket, intermediates)
	return cm.compose(ctx, client, bucket, object, intermediates)
}

func (cm *chunkManager) singleCompose(ctx context.Context, client *storage.Client, bucket, object string, chunks []string) error {
	bkt := client.Bucket(bucket)
	sources := make([]*storage.ObjectHandle, len(chunks))
	for i, c := range chunks {
		sources[i] = bkt.Object(c)
	}
	composer := bkt.Object(object).ComposerFrom(sources...)
	composer.ContentType = "application/octet-stream"
	_, err := composer.Run(ctx)
	return err
}

func (cm *chunkManager) cleanup(ctx context.Context, client *storage.Client, bucket string, objects []string) {
	bkt := client.Bucket(bucket)
	for _, obj := range objects {
		if err := bkt.Object(obj).Delete(ctx); err != nil {
			log.Printf("[WARN] archiver: failed to cleanup object %s: %v", obj, err)
		}
	}
}
