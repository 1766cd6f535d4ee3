package workerpool

// WorkerPool runs tasks on a bounded set of reusable goroutines.
type WorkerPool interface {
	// Schedule hands task to an idle worker or starts one while the pool is
	// below its size. It blocks when every worker is busy.
	Schedule(task func())

	// ScheduleAlways never blocks: when every pooled worker is busy the task
	// runs on an overflow goroutine that exits after staying idle.
	ScheduleAlways(task func())

	// Stats reports the current worker counts.
	Stats() Stats

	// Close stops accepting tasks and waits for the running ones.
	Close()
}

// Stats is a point in time view of a pool.
type Stats struct {
	Size     int
	Workers  int
	Overflow int
}
