package wire

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/scheduler"
)

// ==========================================
// Job: Calendar Refresh
// ==========================================

type calendarRefreshJob struct {
	c   *Container
	log zerolog.Logger
}

func (j *calendarRefreshJob) Name() string { return "calendar_refresh" }

func (j *calendarRefreshJob) Run() error {
	if err := j.c.Calendar.Refresh(""); err != nil {
		return fmt.Errorf("calendar_refresh: %w", err)
	}
	return nil
}

// ==========================================
// Job: TTL Sweep
// ==========================================

// ttlSweepBatchSize bounds how many expired entries one sweep tick
// deletes, so a large backlog does not block the cron goroutine.
const ttlSweepBatchSize = 1000

type ttlSweepJob struct {
	c   *Container
	log zerolog.Logger
}

func (j *ttlSweepJob) Name() string { return "ttl_sweep" }

func (j *ttlSweepJob) Run() error {
	n, err := j.c.TTL.Sweep(ttlSweepBatchSize)
	if err != nil {
		return fmt.Errorf("ttl_sweep: %w", err)
	}
	j.log.Debug().Int("expired", n).Msg("ttl sweep complete")
	return nil
}

// ==========================================
// Job: Coverage Rebuild
// ==========================================

type coverageRebuildJob struct {
	c   *Container
	log zerolog.Logger
}

func (j *coverageRebuildJob) Name() string { return "coverage_rebuild" }

// Run recomputes the coverage row for every (asset_id, period,
// adjust_mode) combination that owns at least one stored bar — a
// periodic self-repair pass, not the per-call incremental Update
// already performed after each fetch.
func (j *coverageRebuildJob) Run() error {
	rows, err := j.c.DB.Conn().Query(`SELECT DISTINCT asset_id, period, adjust_mode FROM bars`)
	if err != nil {
		return fmt.Errorf("coverage_rebuild: list combinations: %w", err)
	}
	type combo struct {
		assetID            int64
		period, adjustMode string
	}
	var combos []combo
	for rows.Next() {
		var cb combo
		if err := rows.Scan(&cb.assetID, &cb.period, &cb.adjustMode); err != nil {
			rows.Close()
			return fmt.Errorf("coverage_rebuild: scan: %w", err)
		}
		combos = append(combos, cb)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("coverage_rebuild: %w", err)
	}
	rows.Close()

	var rebuilt int
	for _, cb := range combos {
		if err := j.c.Coverage.Rebuild(cb.assetID, cb.period, cb.adjustMode); err != nil {
			j.log.Warn().Err(err).Int64("asset_id", cb.assetID).Str("period", cb.period).
				Str("adjust_mode", cb.adjustMode).Msg("coverage rebuild failed for combination")
			continue
		}
		rebuilt++
	}
	j.log.Debug().Int("rebuilt", rebuilt).Int("total", len(combos)).Msg("coverage rebuild complete")
	return nil
}

// ==========================================
// Job: WAL Checkpoint
// ==========================================

type walCheckpointJob struct {
	c   *Container
	log zerolog.Logger
}

func (j *walCheckpointJob) Name() string { return "wal_checkpoint" }

// Run forces a PASSIVE checkpoint, keeping the WAL file from growing
// unbounded between the TRUNCATE checkpoints SQLite performs on close.
func (j *walCheckpointJob) Run() error {
	if err := j.c.DB.WALCheckpoint("PASSIVE"); err != nil {
		return fmt.Errorf("wal_checkpoint: %w", err)
	}
	return nil
}

// ==========================================
// Job: Metrics Sample
// ==========================================

type metricsSampleJob struct {
	c *Container
}

func (j *metricsSampleJob) Name() string { return "metrics_sample" }

func (j *metricsSampleJob) Run() error {
	j.c.Metrics.SampleResources()
	return nil
}

// ==========================================
// Job: Backup
// ==========================================

type backupJob struct {
	c   *Container
	log zerolog.Logger
}

func (j *backupJob) Name() string { return "backup" }

const backupJobTimeout = 5 * time.Minute

func (j *backupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupJobTimeout)
	defer cancel()
	if err := j.c.Backup.Run(ctx); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	return nil
}

// registerJobs builds the Scheduler and attaches every background job
// on its recommended cadence. Backup is only registered when enabled.
func registerJobs(c *Container, log zerolog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(log)

	if err := sched.AddJob("0 0 */6 * * *", &calendarRefreshJob{c: c, log: log}); err != nil {
		return nil, fmt.Errorf("register calendar_refresh: %w", err)
	}
	if err := sched.AddJob("0 */10 * * * *", &ttlSweepJob{c: c, log: log}); err != nil {
		return nil, fmt.Errorf("register ttl_sweep: %w", err)
	}
	if err := sched.AddJob("0 0 * * * *", &coverageRebuildJob{c: c, log: log}); err != nil {
		return nil, fmt.Errorf("register coverage_rebuild: %w", err)
	}
	if err := sched.AddJob("0 */15 * * * *", &walCheckpointJob{c: c, log: log}); err != nil {
		return nil, fmt.Errorf("register wal_checkpoint: %w", err)
	}
	if err := sched.AddJob("0 */5 * * * *", &metricsSampleJob{c: c}); err != nil {
		return nil, fmt.Errorf("register metrics_sample: %w", err)
	}
	if c.Config.Backup.Enabled {
		schedule := fmt.Sprintf("@every %s", c.Config.Backup.Interval)
		if err := sched.AddJob(schedule, &backupJob{c: c, log: log}); err != nil {
			return nil, fmt.Errorf("register backup: %w", err)
		}
	}

	sched.Start()
	return sched, nil
}
