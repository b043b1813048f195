// Package queue serializes write operations onto a single consumer so the
// storage engine only ever sees one writer. Requests arriving close together
// are coalesced into one immediate transaction.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/linwei/iface-registry/internal/domain/entity"
	"github.com/linwei/iface-registry/internal/service"
	"github.com/linwei/iface-registry/pkg/database"
	"go.uber.org/zap"
)

// Op identifies one kind of queued write.
type Op string

const (
	OpUpsertTask      Op = "upsert_task"
	OpBatchUpsert     Op = "batch_upsert"
	OpMarkCompleted   Op = "mark_completed"
	OpMarkConfirmed   Op = "mark_confirmed"
	OpMarkUnconfirmed Op = "mark_unconfirmed"
	OpMarkIgnored     Op = "mark_ignored"
	OpUnmarkIgnored   Op = "unmark_ignored"
	OpWriteEvent      Op = "write_event"
)

// Request is one queued write. Only the fields relevant to its Op need to
// be set; Now defaults to submission time and ID to a fresh UUID.
type Request struct {
	ID  string
	Op  Op
	Now time.Time

	Key    entity.TaskKey
	Fields entity.UpsertFields
	Items  []service.BatchUpsertItem
	Keys   []entity.TaskKey

	Actor          string
	Reason         string
	ResponseNumber string

	EventKind  string
	EventExtra map[string]any

	// Result is populated for the batch ignore ops before OnDone fires.
	Result *entity.BatchResult

	// OnDone runs after the transaction holding this request commits or
	// rolls back. A batch fails as a whole: every request in it receives
	// the same error.
	OnDone func(err error)
}

// WriteQueue is the single-consumer write serializer. When disabled (or not
// started) Submit applies the request synchronously on the caller.
type WriteQueue struct {
	svc           *service.Service
	logger        *zap.Logger
	enabled       bool
	maxBatchSize  int
	batchInterval time.Duration

	requests   chan *Request
	pending    atomic.Int64
	submitters sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Options tunes the queue. Zero values fall back to defaults.
type Options struct {
	Enabled       bool
	MaxBatchSize  int
	BatchInterval time.Duration
}

// NewWriteQueue creates the queue around the lifecycle service.
func NewWriteQueue(svc *service.Service, logger *zap.Logger, opts Options) *WriteQueue {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 50
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = 500 * time.Millisecond
	}
	return &WriteQueue{
		svc:           svc,
		logger:        logger,
		enabled:       opts.Enabled,
		maxBatchSize:  opts.MaxBatchSize,
		batchInterval: opts.BatchInterval,
		requests:      make(chan *Request, 4*opts.MaxBatchSize),
	}
}

// Start launches the consumer goroutine. A disabled queue starts as a no-op
// so the worker manager can treat it uniformly.
func (q *WriteQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return fmt.Errorf("write queue already running")
	}
	if !q.enabled {
		q.logger.Info("Write queue disabled, requests apply synchronously")
		return nil
	}

	q.ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	q.isRunning = true

	q.logger.Info("Write queue started",
		zap.Int("max_batch_size", q.maxBatchSize),
		zap.Duration("batch_interval", q.batchInterval))

	go q.run()
	return nil
}

// Stop drains queued requests and terminates the consumer.
func (q *WriteQueue) Stop() {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = false
	done := q.done
	q.mu.Unlock()

	q.cancel()
	q.submitters.Wait()
	<-done
	// A submitter racing the shutdown can win the buffered send after the
	// consumer already drained; sweep the channel once more now that no
	// submitter is left.
	q.drain()
	q.logger.Info("Write queue stopped")
}

// Name implements the worker contract.
func (q *WriteQueue) Name() string {
	return "write-queue"
}

// Pending returns the number of requests not yet committed.
func (q *WriteQueue) Pending() int64 {
	return q.pending.Load()
}

// Submit enqueues one request. On the synchronous path the returned error
// is the transaction error; on the asynchronous path errors are delivered
// through OnDone and Submit only fails when the queue is shutting down.
func (q *WriteQueue) Submit(req *Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	q.mu.Lock()
	running := q.isRunning
	if running {
		q.submitters.Add(1)
	}
	q.mu.Unlock()

	q.pending.Add(1)
	if !running {
		return q.processBatch([]*Request{req})
	}
	defer q.submitters.Done()

	select {
	case q.requests <- req:
		return nil
	case <-q.ctx.Done():
		q.pending.Add(-1)
		return fmt.Errorf("write queue is shutting down")
	}
}

// Flush blocks until every submitted request has committed or rolled back,
// or the timeout elapses.
func (q *WriteQueue) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for q.pending.Load() > 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("flush timed out with %d requests pending", q.pending.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (q *WriteQueue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			q.drain()
			return
		case req := <-q.requests:
			q.collect(req)
		}
	}
}

// collect gathers requests arriving within one batch interval, up to the
// batch size cap, then commits them together.
func (q *WriteQueue) collect(first *Request) {
	batch := []*Request{first}
	timer := time.NewTimer(q.batchInterval)
	defer timer.Stop()

	for len(batch) < q.maxBatchSize {
		select {
		case req := <-q.requests:
			batch = append(batch, req)
		case <-timer.C:
			q.processBatch(batch)
			return
		case <-q.ctx.Done():
			q.processBatch(batch)
			return
		}
	}
	q.processBatch(batch)
}

// drain commits whatever is still buffered at shutdown.
func (q *WriteQueue) drain() {
	var batch []*Request
	for {
		select {
		case req := <-q.requests:
			batch = append(batch, req)
			if len(batch) == q.maxBatchSize {
				q.processBatch(batch)
				batch = nil
			}
		default:
			if len(batch) > 0 {
				q.processBatch(batch)
			}
			return
		}
	}
}

// processBatch applies a batch inside one immediate transaction. Any
// failure rolls the whole batch back; callbacks see the shared error.
// Maintenance mode fails the batch before a connection is opened.
func (q *WriteQueue) processBatch(batch []*Request) error {
	db, err := database.Acquire(q.logger)
	txErr := err
	if txErr == nil {
		txErr = db.WithImmediateTx(func(tx *sql.Tx) error {
			for _, req := range batch {
				if err := q.apply(tx, req); err != nil {
					return fmt.Errorf("request %s (%s): %w", req.ID, req.Op, err)
				}
			}
			return nil
		})
	}

	for _, req := range batch {
		if req.OnDone != nil {
			req.OnDone(txErr)
		}
		q.pending.Add(-1)
	}

	if txErr != nil {
		q.logger.Error("Write batch failed",
			zap.Int("batch_size", len(batch)),
			zap.Error(txErr))
	} else {
		q.logger.Debug("Write batch committed", zap.Int("batch_size", len(batch)))
	}
	return txErr
}

func (q *WriteQueue) apply(tx *sql.Tx, req *Request) error {
	switch req.Op {
	case OpUpsertTask:
		return q.svc.UpsertTaskTx(tx, req.Key, req.Fields, req.Now)
	case OpBatchUpsert:
		for _, item := range req.Items {
			if err := q.svc.UpsertTaskTx(tx, item.Key, item.Fields, req.Now); err != nil {
				return err
			}
		}
		return nil
	case OpMarkCompleted:
		return q.svc.MarkCompletedTx(tx, req.Key, req.Actor, req.ResponseNumber, req.Now)
	case OpMarkConfirmed:
		return q.svc.MarkConfirmedTx(tx, req.Key, req.Actor, req.Now)
	case OpMarkUnconfirmed:
		return q.svc.MarkUnconfirmedTx(tx, req.Key, req.Actor, req.Now)
	case OpMarkIgnored:
		req.Result = q.svc.MarkIgnoredBatchTx(tx, req.Keys, req.Actor, req.Reason, req.Now)
		return nil
	case OpUnmarkIgnored:
		req.Result = q.svc.UnmarkIgnoredBatchTx(tx, req.Keys, req.Actor, req.Now)
		return nil
	case OpWriteEvent:
		var key *entity.TaskKey
		if req.Key != (entity.TaskKey{}) {
			key = &req.Key
		}
		return q.svc.WriteEventTx(tx, req.EventKind, key, req.EventExtra, req.Now)
	default:
		return fmt.Errorf("unknown queue op: %s", req.Op)
	}
}
