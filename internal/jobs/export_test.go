package jobs

import "context"

func (s *Scheduler) ExecuteJobSafely(jobName string, jobFunc func(context.Context) error) {
	s.executeJobSafely(jobName, jobFunc)
}

func (s *Scheduler) RunRollup(ctx context.Context) error {
	return s.runRollup(ctx)
}
