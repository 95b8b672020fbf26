package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/lumenwallet/custody/internal/core/ports"
)

type service struct {
	scheduler *gocron.Scheduler
}

// NewScheduler returns a scheduler whose jobs never overlap with themselves:
// a run that is still in progress when the next one is due makes the latter
// skip.
func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	svc.SingletonModeAll()
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

func (s *service) ScheduleTask(
	interval int64, immediate bool, task func(),
) (func(), error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid interval %d", interval)
	}
	s.scheduler.Every(int(interval)).Seconds()
	if !immediate {
		s.scheduler.WaitForSchedule()
	}
	job, err := s.scheduler.Do(task)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule task: %w", err)
	}
	return func() { s.scheduler.RemoveByReference(job) }, nil
}
