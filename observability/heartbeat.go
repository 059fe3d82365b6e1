package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// HeartbeatWriter periodically records that the host loop is alive and how
// far it got. The cycle counter is read through a callback so the writer
// never touches loop state directly.
type HeartbeatWriter struct {
	db         *sql.DB
	workerName string
	hostname   string
	pid        int
	interval   time.Duration
	cycle      func() uint64
	logger     *slog.Logger
	stop       chan struct{}
	done       chan struct{}
}

// NewHeartbeatWriter creates a writer. cycle may be nil.
func NewHeartbeatWriter(db *sql.DB, workerName string, interval time.Duration, cycle func() uint64) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if cycle == nil {
		cycle = func() uint64 { return 0 }
	}
	return &HeartbeatWriter{
		db:         db,
		workerName: workerName,
		hostname:   hostname,
		pid:        os.Getpid(),
		interval:   interval,
		cycle:      cycle,
		logger:     slog.Default(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start writes one heartbeat immediately, then one per interval until Stop
// or ctx is done.
func (hw *HeartbeatWriter) Start(ctx context.Context) {
	go hw.loop(ctx)
}

// Stop ends the heartbeat goroutine and waits for it.
func (hw *HeartbeatWriter) Stop() {
	close(hw.stop)
	<-hw.done
}

// Write records a single heartbeat.
func (hw *HeartbeatWriter) Write(ctx context.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	_, err := hw.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (
			worker_name, hostname, worker_pid, timestamp, cycle, goroutines_count, memory_alloc_mb
		) VALUES (?,?,?,?,?,?,?)`,
		hw.workerName, hw.hostname, hw.pid, time.Now().Unix(), int64(hw.cycle()),
		runtime.NumGoroutine(), float64(mem.Alloc)/1024/1024)
	if err != nil {
		return fmt.Errorf("observability: insert heartbeat: %w", err)
	}
	return nil
}

func (hw *HeartbeatWriter) loop(ctx context.Context) {
	defer close(hw.done)
	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()

	for {
		if err := hw.Write(ctx); err != nil && ctx.Err() == nil {
			hw.logger.Error("observability: heartbeat write failed", "error", err, "worker", hw.workerName)
		}
		select {
		case <-ctx.Done():
			return
		case <-hw.stop:
			return
		case <-ticker.C:
		}
	}
}

// HeartbeatStatus is the latest heartbeat of a worker plus a staleness
// verdict.
type HeartbeatStatus struct {
	WorkerName string    `json:"worker_name"`
	Hostname   string    `json:"hostname"`
	PID        int       `json:"pid"`
	Cycle      uint64    `json:"cycle"`
	Timestamp  time.Time `json:"timestamp"`
	Alive      bool      `json:"alive"`
}

// LatestHeartbeat returns the newest heartbeat of workerName, or nil when
// none was written yet. A heartbeat older than staleAfter is reported as
// not alive.
func LatestHeartbeat(ctx context.Context, db *sql.DB, workerName string, staleAfter time.Duration) (*HeartbeatStatus, error) {
	var hs HeartbeatStatus
	var ts, cycle int64
	err := db.QueryRowContext(ctx, `
		SELECT worker_name, hostname, worker_pid, timestamp, cycle
		FROM worker_heartbeats
		WHERE worker_name = ?
		ORDER BY timestamp DESC, rowid DESC LIMIT 1`, workerName).
		Scan(&hs.WorkerName, &hs.Hostname, &hs.PID, &ts, &cycle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("observability: latest heartbeat: %w", err)
	}
	hs.Timestamp = time.Unix(ts, 0)
	hs.Cycle = uint64(cycle)
	hs.Alive = time.Since(hs.Timestamp) <= staleAfter
	return &hs, nil
}
