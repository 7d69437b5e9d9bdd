package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const cleanupTimeout = 30 * time.Second

// CleanupTask deletes stale rows and reports how many went.
type CleanupTask struct {
	Name string
	Run  func(context.Context) (int64, error)
}

type CleanupJob struct {
	tasks    []CleanupTask
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCleanupJob(interval time.Duration, tasks ...CleanupTask) *CleanupJob {
	return &CleanupJob{
		tasks:    tasks,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Int("tasks", len(j.tasks)).Msg("cleanup job started")
}

// Stop waits for an in-flight pass to finish.
func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("cleanup job stopped")
	})
}

func (j *CleanupJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	for _, task := range j.tasks {
		j.runCleanup(ctx, task)
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, task CleanupTask) {
	count, err := task.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", task.Name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", task.Name)
	}
}
