package ledger

import (
	"context"
	"sync"
	"time"
)

type OutboxOp string

const (
	OutboxUpsert OutboxOp = "upsert"
	OutboxDelete OutboxOp = "delete"
)

type OutboxItem struct {
	Op         OutboxOp
	Collection string
	DocKey     string
	Doc        []byte
	Financial  bool
}

// FailureNotifier surfaces a remote write failure to the operator. It
// is only invoked for financial records; a collection that fails to
// leave the device is money the owner must know to re-enter elsewhere.
type FailureNotifier interface {
	RemoteWriteFailed(collection, key string, err error)
}

type OutboxOptions struct {
	Remote        RemoteStore
	Logger        Logger
	Notifier      FailureNotifier
	MaxAttempts   int
	RetryDelay    time.Duration
	QueueSize     int
	WriteTimeout  time.Duration
	DisableWorker bool
}

// Outbox carries every fire-and-forget remote write. The default is a
// single attempt per item, matching the no-retry contract; MaxAttempts
// and RetryDelay exist so backoff can be added without changing call
// sites.
type Outbox struct {
	remote       RemoteStore
	logger       Logger
	notifier     FailureNotifier
	maxAttempts  int
	retryDelay   time.Duration
	writeTimeout time.Duration
	ch           chan OutboxItem
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

func NewOutbox(opts OutboxOptions) *Outbox {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		remote:       opts.Remote,
		logger:       opts.Logger,
		notifier:     opts.Notifier,
		maxAttempts:  maxAttempts,
		retryDelay:   retryDelay,
		writeTimeout: writeTimeout,
		ch:           make(chan OutboxItem, queueSize),
		ctx:          ctx,
		cancel:       cancel,
	}
	if !opts.DisableWorker {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.worker()
		}()
	}
	return o
}

// EnqueueUpsert queues a sanitized document for remote write. The
// caller never waits for the outcome.
func (o *Outbox) EnqueueUpsert(collection, key string, doc []byte, financial bool) {
	o.enqueue(OutboxItem{
		Op:         OutboxUpsert,
		Collection: collection,
		DocKey:     key,
		Doc:        doc,
		Financial:  financial,
	})
}

func (o *Outbox) EnqueueDelete(collection, key string) {
	o.enqueue(OutboxItem{Op: OutboxDelete, Collection: collection, DocKey: key})
}

func (o *Outbox) enqueue(item OutboxItem) {
	if o == nil || item.Collection == "" || item.DocKey == "" {
		return
	}
	select {
	case o.ch <- item:
	default:
		logf(o.logger, "outbox full, dropping %s %s/%s", item.Op, item.Collection, item.DocKey)
	}
}

func (o *Outbox) Depth() int {
	if o == nil {
		return 0
	}
	return len(o.ch)
}

func (o *Outbox) Capacity() int {
	if o == nil {
		return 0
	}
	return cap(o.ch)
}

func (o *Outbox) Close() {
	if o == nil {
		return
	}
	o.closeOnce.Do(func() {
		o.cancel()
		o.wg.Wait()
	})
}

func (o *Outbox) worker() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case item := <-o.ch:
			o.process(item)
		}
	}
}

func (o *Outbox) process(item OutboxItem) {
	var err error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		err = o.write(item)
		if err == nil {
			return
		}
		if attempt < o.maxAttempts {
			select {
			case <-o.ctx.Done():
				return
			case <-time.After(o.retryDelay):
			}
		}
	}
	if item.Op == OutboxDelete {
		// Remote delete failures are swallowed; local state stays
		// authoritative for this process.
		logf(o.logger, "remote delete %s/%s failed: %v", item.Collection, item.DocKey, err)
		return
	}
	if item.Financial && o.notifier != nil {
		o.notifier.RemoteWriteFailed(item.Collection, item.DocKey, err)
	}
	logf(o.logger, "remote write %s/%s failed: %v", item.Collection, item.DocKey, err)
}

func (o *Outbox) write(item OutboxItem) error {
	if o.remote == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(o.ctx, o.writeTimeout)
	defer cancel()
	if item.Op == OutboxDelete {
		return o.remote.Delete(ctx, item.Collection, item.DocKey)
	}
	return o.remote.Put(ctx, item.Collection, item.DocKey, item.Doc)
}
