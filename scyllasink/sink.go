package scyllasink

import (
	"context"
	"fmt"
	"sync"

	"github.com/gocql/gocql"
)

// Sink is the facade described by spec §4.5: construct one with New, feed
// it events with LogAccountUpdate/LogTransaction, and call Shutdown exactly
// once when done. It is the only type callers outside this package need.
type Sink struct {
	session  *gocql.Session
	lock     *ProducerLock
	archiver *Archiver

	dispatcher *Dispatcher
	shards     []*Shard

	metrics *Metrics

	runWG   sync.WaitGroup
	runErrs chan error

	closeOnce   sync.Once
	closed      chan struct{}
	shutdownErr error
}

// New acquires the producer lock, recovers per-shard resume offsets,
// builds the session/shard/dispatcher pipeline, and starts every
// goroutine. The returned Sink owns the gocql session and will close it on
// Shutdown.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	session, err := newSession(cfg)
	if err != nil {
		return nil, err
	}

	info, err := GetProducerInfo(ctx, session, cfg.ProducerId)
	if err != nil {
		session.Close()
		return nil, err
	}

	lock, err := AcquireLock(ctx, session, cfg.ProducerId, cfg.Ifname)
	if err != nil {
		session.Close()
		return nil, err
	}

	resumeOffsets, err := RecoverOffsets(ctx, session, cfg.ProducerId, info.NumShards, cfg.PeriodSize)
	if err != nil {
		lock.Release(ctx)
		session.Close()
		return nil, err
	}

	metrics := NewMetrics()

	var archiver *Archiver
	if cfg.Archive != nil {
		archiver, err = NewArchiver(context.Background(), *cfg.Archive)
		if err != nil {
			lock.Release(ctx)
			session.Close()
			return nil, err
		}
		archiver.Start()
	}

	shards := make([]*Shard, info.NumShards)
	for _, resume := range resumeOffsets {
		shards[resume.ShardId] = NewShard(session, metrics, archiver, resume.ShardId, cfg.ProducerId, resume.LastOffset+1, cfg)
	}

	dispatcher := NewDispatcher(session, cfg.ProducerId, shards)

	sink := &Sink{
		session:    session,
		lock:       lock,
		archiver:   archiver,
		dispatcher: dispatcher,
		shards:     shards,
		metrics:    metrics,
		runErrs:    make(chan error, len(shards)+1),
		closed:     make(chan struct{}),
	}

	runCtx := context.Background()
	sink.runWG.Add(len(shards) + 1)
	for _, shard := range shards {
		shard := shard
		go func() {
			defer sink.runWG.Done()
			if err := shard.run(runCtx); err != nil {
				sink.runErrs <- fmt.Errorf("shard %d: %w", shard.shardId, err)
			}
		}()
	}
	go func() {
		defer sink.runWG.Done()
		if err := dispatcher.run(runCtx); err != nil {
			sink.runErrs <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	return sink, nil
}

// Metrics returns the live metrics counters, readable at any point during
// the Sink's lifetime.
func (s *Sink) Metrics() *Metrics { return s.metrics }

// LogAccountUpdate enqueues an account-write event for ingestion.
func (s *Sink) LogAccountUpdate(u AccountUpdate) error {
	return s.enqueue(insertAccountUpdateCommand(u))
}

// LogTransaction enqueues a transaction event for ingestion.
func (s *Sink) LogTransaction(tx Transaction) error {
	return s.enqueue(insertTransactionCommand(tx))
}

func (s *Sink) enqueue(cmd Command) error {
	select {
	case <-s.closed:
		return ErrSinkClosed
	default:
	}

	select {
	case s.dispatcher.mailbox <- cmd:
		return nil
	case <-s.closed:
		return ErrSinkClosed
	}
}

// Shutdown forwards Shutdown to the dispatcher, waits for every shard to
// finish flushing, releases the producer lock, and tears down the session
// and archiver. Safe to call exactly once; subsequent calls return
// ErrSinkClosed immediately.
func (s *Sink) Shutdown(ctx context.Context) error {
	firstCall := false
	s.closeOnce.Do(func() {
		firstCall = true
		close(s.closed)
		s.dispatcher.mailbox <- shutdownCommand()

		s.runWG.Wait()
		close(s.runErrs)

		var errs []error
		for err := range s.runErrs {
			errs = append(errs, err)
		}

		if err := s.lock.Release(ctx); err != nil {
			errs = append(errs, err)
		}

		if s.archiver != nil {
			s.archiver.Stop()
		}
		s.session.Close()

		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("scyllasink: shutdown errors: %v", errs)
		}
	})
	if firstCall {
		return s.shutdownErr
	}
	return ErrSinkClosed
}
