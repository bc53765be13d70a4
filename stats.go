package main

import (
	"database/sql"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	statsQueueSize  = 1024
	statsBatchSize  = 50
	statsFlushEvery = 5 * time.Second
)

// FrameStat is one sampled frame of a session
type FrameStat struct {
	SessionID string
	Builder   string
	Entities  int
	Nodes     int
	Depth     int
	BuildUS   int64
	Timestamp time.Time
}

// BuilderSummary holds aggregated build statistics for one strategy
type BuilderSummary struct {
	Builder     string  `json:"builder"`
	Frames      int     `json:"frames"`
	AvgEntities float64 `json:"avg_entities"`
	AvgDepth    float64 `json:"avg_depth"`
	AvgBuildUS  float64 `json:"avg_build_us"`
	MaxBuildUS  int64   `json:"max_build_us"`
}

// StatsRecorder persists frame stats with batched background writes
type StatsRecorder struct {
	db     *DB
	logger *zap.SugaredLogger
	stats  chan FrameStat
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewStatsRecorder creates and starts the background writer. db may be nil,
// in which case stats are discarded.
func NewStatsRecorder(db *DB, logger *zap.SugaredLogger) *StatsRecorder {
	r := &StatsRecorder{
		db:     db,
		logger: logger,
		stats:  make(chan FrameStat, statsQueueSize),
		stop:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.writer()
	return r
}

// Record enqueues a stat without blocking the tick loop
func (r *StatsRecorder) Record(stat FrameStat) {
	if r == nil {
		return
	}
	select {
	case r.stats <- stat:
	default:
		// queue full, drop
	}
}

// Stop flushes pending stats and shuts the writer down
func (r *StatsRecorder) Stop() {
	if r == nil {
		return
	}
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *StatsRecorder) writer() {
	defer r.wg.Done()

	batch := make([]FrameStat, 0, statsBatchSize)
	ticker := time.NewTicker(statsFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case s := <-r.stats:
			batch = append(batch, s)
			if len(batch) >= statsBatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-r.stop:
			// Senders may still be running, so drain without closing.
			for {
				select {
				case s := <-r.stats:
					batch = append(batch, s)
				default:
					r.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes a batch of stats in one transaction
func (r *StatsRecorder) flush(batch []FrameStat) {
	if r.db == nil || len(batch) == 0 {
		return
	}
	if err := r.insert(batch); err != nil {
		r.logger.Warnw("frame stats flush failed", "rows", len(batch), "error", err)
	}
}

func (r *StatsRecorder) insert(batch []FrameStat) (err error) {
	tx, err := r.db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	stmt, err := tx.Prepare(`INSERT INTO frame_stats (session_id, builder, entities, nodes, depth, build_us, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range batch {
		_, execErr := stmt.Exec(s.SessionID, s.Builder, s.Entities, s.Nodes, s.Depth, s.BuildUS, s.Timestamp.UTC().Format(time.RFC3339))
		err = multierr.Append(err, execErr)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Summary returns per-builder averages over the last days
func (r *StatsRecorder) Summary(days int) ([]BuilderSummary, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	rows, err := r.db.conn.Query(`
		SELECT builder, COUNT(*), AVG(entities), AVG(depth), AVG(build_us), MAX(build_us)
		FROM frame_stats
		WHERE created_at >= date('now', '-' || ? || ' days')
		GROUP BY builder ORDER BY builder
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BuilderSummary
	for rows.Next() {
		var bs BuilderSummary
		var avgEnt, avgDepth, avgUS sql.NullFloat64
		if err := rows.Scan(&bs.Builder, &bs.Frames, &avgEnt, &avgDepth, &avgUS, &bs.MaxBuildUS); err != nil {
			return nil, err
		}
		bs.AvgEntities = avgEnt.Float64
		bs.AvgDepth = avgDepth.Float64
		bs.AvgBuildUS = avgUS.Float64
		result = append(result, bs)
	}
	return result, rows.Err()
}
