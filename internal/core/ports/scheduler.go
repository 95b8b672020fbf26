package ports

type SchedulerService interface {
	Start()
	Stop()

	// ScheduleTask runs task every interval seconds. If immediate is false the
	// first run waits for the first interval to elapse. The returned func
	// removes the task from the scheduler.
	ScheduleTask(interval int64, immediate bool, task func()) (func(), error)
}
