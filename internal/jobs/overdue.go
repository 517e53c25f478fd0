// Package jobs runs the scheduled background work of the lending system.
package jobs

import (
	"log"

	"github.com/robfig/cron/v3"

	"liblending/internal/services"
)

// OverdueJob runs the overdue sweep on a cron schedule (daily at midnight by
// default).
type OverdueJob struct {
	cron *cron.Cron
	svc  services.LendingService
}

// NewOverdueJob registers the sweep with the given cron expression
// (standard 5-field syntax, e.g. "0 0 * * *").
func NewOverdueJob(svc services.LendingService, schedule string) (*OverdueJob, error) {
	j := &OverdueJob{
		cron: cron.New(),
		svc:  svc,
	}
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *OverdueJob) run() {
	log.Printf("[INFO] overdue job: running daily check for overdue books")
	if _, err := j.svc.SweepOverdue(); err != nil {
		log.Printf("[ERROR] overdue job: sweep failed: %v", err)
	}
}

func (j *OverdueJob) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *OverdueJob) Stop() {
	<-j.cron.Stop().Done()
}
