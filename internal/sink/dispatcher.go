package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/acoustic-modem/internal/metrics"
)

// DispatcherConfig sizes the delivery pipeline
type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	DedupWindow time.Duration
}

// DispatcherStats represents dispatcher statistics
type DispatcherStats struct {
	Submitted     uint64     `json:"submitted"`
	Dropped       uint64     `json:"dropped"`
	Delivered     uint64     `json:"delivered"`
	Failed        uint64     `json:"failed"`
	QueueSize     int        `json:"queue_size"`
	QueueCapacity int        `json:"queue_capacity"`
	Sinks         []string   `json:"sinks"`
	Dedup         DedupStats `json:"dedup"`
}

// Dispatcher fans deliveries out to every sink from a pool of workers
type Dispatcher struct {
	config  DispatcherConfig
	sinks   []Sink
	dedup   *Deduper
	logger  *slog.Logger
	metrics *metrics.Metrics

	queue  chan *Delivery
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	submitted uint64
	dropped   uint64
	delivered uint64
	failed    uint64
	closed    bool
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(config DispatcherConfig, sinks []Sink, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		config:  config,
		sinks:   sinks,
		dedup:   NewDeduper(config.DedupWindow),
		logger:  logger,
		metrics: m,
		queue:   make(chan *Delivery, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines
func (d *Dispatcher) Start() {
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	d.logger.Info("Delivery dispatcher started",
		slog.Int("workers", d.config.Workers),
		slog.Int("queue_size", d.config.QueueSize),
		slog.Any("sinks", names),
		slog.Duration("dedup_window", d.config.DedupWindow),
	)
}

// Submit queues a delivery without blocking. It returns false when the
// delivery was suppressed as a duplicate or dropped because the queue is full.
func (d *Dispatcher) Submit(del *Delivery) bool {
	if del == nil {
		return false
	}

	if !d.dedup.ShouldForward(del, time.Now()) {
		if d.metrics != nil {
			d.metrics.RecordDuplicate()
		}
		d.logger.Debug("Suppressed duplicate delivery",
			slog.Uint64("stream_id", uint64(del.StreamID)),
			slog.String("kind", del.Kind),
		)
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.submitted++

	select {
	case d.queue <- del:
		return true
	default:
		d.dropped++
		if d.metrics != nil {
			d.metrics.RecordSinkDropped()
		}
		d.logger.Warn("Delivery queue full, dropping delivery",
			slog.Uint64("stream_id", uint64(del.StreamID)),
			slog.String("kind", del.Kind),
		)
		return false
	}
}

func (d *Dispatcher) worker(workerID int) {
	defer d.wg.Done()

	for del := range d.queue {
		for _, s := range d.sinks {
			d.deliver(s, del, workerID)
		}
	}
}

func (d *Dispatcher) deliver(s Sink, del *Delivery, workerID int) {
	start := time.Now()
	err := s.Deliver(d.ctx, del)
	elapsed := time.Since(start).Seconds()

	d.mu.Lock()
	if err != nil {
		d.failed++
	} else {
		d.delivered++
	}
	d.mu.Unlock()

	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordSinkFailure(s.Name(), elapsed)
		}
		d.logger.Error("Delivery failed",
			slog.String("sink", s.Name()),
			slog.Uint64("stream_id", uint64(del.StreamID)),
			slog.String("kind", del.Kind),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	if d.metrics != nil {
		d.metrics.RecordSinkSuccess(s.Name(), elapsed)
	}
	d.logger.Debug("Delivered",
		slog.String("sink", s.Name()),
		slog.Uint64("stream_id", uint64(del.StreamID)),
		slog.String("kind", del.Kind),
		slog.Int("worker_id", workerID),
	)
}

// Stop drains the queue, waits for the workers and closes every sink.
// Deliveries still retrying when ctx expires are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
	}
	d.cancel()

	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.logger.Warn("Error closing sink",
				slog.String("sink", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	stats := d.Stats()
	d.logger.Info("Delivery dispatcher stopped",
		slog.Uint64("delivered", stats.Delivered),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("dropped", stats.Dropped),
		slog.Uint64("duplicates", stats.Dedup.Duplicates),
	)
	return nil
}

// Stats returns current dispatcher statistics
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}

	return DispatcherStats{
		Submitted:     d.submitted,
		Dropped:       d.dropped,
		Delivered:     d.delivered,
		Failed:        d.failed,
		QueueSize:     len(d.queue),
		QueueCapacity: cap(d.queue),
		Sinks:         names,
		Dedup:         d.dedup.Stats(),
	}
}
