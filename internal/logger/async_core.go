package logger

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap/zapcore"
)

// asyncEntry remembers the core that produced it so fields added with With survive the queue.
type asyncEntry struct {
	core   zapcore.Core
	entry  zapcore.Entry
	fields []zapcore.Field
}

// asyncState is shared by an AsyncCore and every core derived from it with With.
type asyncState struct {
	entries       chan asyncEntry
	flush         chan chan struct{}
	quit          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
	closed        atomic.Bool
	dropped       atomic.Uint64
	batchSize     int
	flushInterval time.Duration
	reportEvery   time.Duration
}

// AsyncCore wraps a zapcore.Core and writes entries in batches from a single
// goroutine. Writes never block: entries arriving at a full buffer are dropped
// and reported periodically.
type AsyncCore struct {
	core zapcore.Core
	*asyncState
}

// NewAsyncCore starts the writer goroutine.
// bufferSize: size of the buffered channel
// batchSize: number of log entries per batch
// flushInterval: maximum time to wait before flushing a batch
func NewAsyncCore(core zapcore.Core, bufferSize, batchSize int, flushInterval time.Duration) *AsyncCore {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 || batchSize > bufferSize {
		batchSize = max(bufferSize/10, 1)
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}

	ac := &AsyncCore{
		core: core,
		asyncState: &asyncState{
			entries:       make(chan asyncEntry, bufferSize),
			flush:         make(chan chan struct{}),
			quit:          make(chan struct{}),
			done:          make(chan struct{}),
			batchSize:     batchSize,
			flushInterval: flushInterval,
			reportEvery:   time.Minute,
		},
	}
	go ac.run()
	return ac
}

func (ac *AsyncCore) run() {
	defer close(ac.done)

	ticker := time.NewTicker(ac.flushInterval)
	defer ticker.Stop()
	report := time.NewTicker(ac.reportEvery)
	defer report.Stop()

	batch := make([]asyncEntry, 0, ac.batchSize)
	write := func() {
		for _, e := range batch {
			if err := e.core.Write(e.entry, e.fields); err != nil {
				fmt.Fprintf(os.Stderr, "failed to write log entry: %v\n", err)
			}
		}
		batch = batch[:0]
	}
	drain := func() {
		for {
			select {
			case e := <-ac.entries:
				batch = append(batch, e)
				if len(batch) >= ac.batchSize {
					write()
				}
			default:
				write()
				return
			}
		}
	}

	for {
		select {
		case e := <-ac.entries:
			batch = append(batch, e)
			if len(batch) >= ac.batchSize {
				write()
			}
		case <-ticker.C:
			write()
		case ack := <-ac.flush:
			drain()
			close(ack)
		case <-report.C:
			ac.reportDropped()
		case <-ac.quit:
			drain()
			ac.reportDropped()
			return
		}
	}
}

func (ac *AsyncCore) reportDropped() {
	dropped := ac.dropped.Swap(0)
	if dropped == 0 {
		return
	}
	entry := zapcore.Entry{
		Level:      zapcore.WarnLevel,
		Message:    fmt.Sprintf("Dropped %d log entries due to full buffer", dropped),
		Time:       time.Now(),
		LoggerName: "AsyncCore",
	}
	ac.core.Write(entry, nil)
}

func (ac *AsyncCore) Enabled(level zapcore.Level) bool {
	return ac.core.Enabled(level)
}

func (ac *AsyncCore) With(fields []zapcore.Field) zapcore.Core {
	return &AsyncCore{core: ac.core.With(fields), asyncState: ac.asyncState}
}

func (ac *AsyncCore) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ac.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, ac)
	}
	return checkedEntry
}

// Write enqueues the entry. Field values are encoded later on the writer
// goroutine, so callers must not mutate them after logging.
func (ac *AsyncCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if ac.closed.Load() {
		ac.dropped.Add(1)
		return nil
	}
	select {
	case ac.entries <- asyncEntry{core: ac.core, entry: entry, fields: fields}:
	default:
		ac.dropped.Add(1)
	}
	return nil
}

// Sync writes everything queued so far and syncs the underlying core.
func (ac *AsyncCore) Sync() error {
	ack := make(chan struct{})
	select {
	case ac.flush <- ack:
		<-ack
	case <-ac.done:
	}
	return ac.core.Sync()
}

// Close drains the queue and stops the writer goroutine. Later writes are dropped.
func (ac *AsyncCore) Close() error {
	ac.closeOnce.Do(func() {
		ac.closed.Store(true)
		close(ac.quit)
	})
	<-ac.done
	return ac.core.Sync()
}

// Dropped returns the entries dropped since the last periodic report.
func (ac *AsyncCore) Dropped() uint64 {
	return ac.dropped.Load()
}
