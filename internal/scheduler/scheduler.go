// Package scheduler runs QuantDB's periodic jobs (calendar refresh, TTL
// sweep, coverage rebuild, backup) on a robfig/cron/v3 schedule, the
// same Job-interface-plus-cron.Cron shape the ecosystem already uses
// for its own background jobs.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/utils"
)

// Job is one periodic unit of work.
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages QuantDB's background jobs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job on schedule, a standard cron expression (with
// seconds field, since the Scheduler is built WithSeconds), e.g.
// "0 */5 * * * *" for every 5 minutes or "@every 30s".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("running job")
		timer := utils.NewTimer(job.Name(), s.log)
		if err := job.Run(); err != nil {
			timer.Stop()
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		timer.Stop()
		s.log.Debug().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("running job immediately")
	timer := utils.NewTimer(job.Name(), s.log)
	defer timer.Stop()
	return job.Run()
}
