package utils

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsaid97/go-spike-fixer/logging"
)

// workerPool feeds a fixed set of jobs to a bounded number of goroutines
// running the same work function. Every job yields exactly one result.
type workerPool struct {
	jobs    chan any
	results chan any
	wg      sync.WaitGroup
}

func newWorkerPool(workers, size int, work func(any) any) *workerPool {
	wp := &workerPool{
		jobs:    make(chan any, size),
		results: make(chan any, size),
	}
	wp.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wp.wg.Done()
			for job := range wp.jobs {
				wp.results <- work(job)
			}
		}()
	}
	return wp
}

// Counter is incremented once per processed item. Implementations must be
// safe for concurrent use.
type Counter interface {
	Increment()
}

// ProgressTracker tracks progress of concurrent operations
type ProgressTracker struct {
	Total     int64
	Processed int64
	StartTime time.Time
	Name      string
	logger    logging.Logger
}

// NewProgressTracker creates a new progress tracker. A nil logger keeps it
// silent.
func NewProgressTracker(total int64, name string, logger logging.Logger) *ProgressTracker {
	if logger == nil {
		logger = logging.Noop()
	}
	return &ProgressTracker{
		Total:     total,
		StartTime: time.Now(),
		Name:      name,
		logger:    logger,
	}
}

// Increment increments the processed count atomically
func (pt *ProgressTracker) Increment() {
	processed := atomic.AddInt64(&pt.Processed, 1)

	// Log progress every 100 items or at completion
	if processed%100 == 0 || processed == pt.Total {
		elapsed := time.Since(pt.StartTime)
		pt.logger.Info(context.Background(), "progress",
			logging.String("task", pt.Name),
			logging.Int64("processed", processed),
			logging.Int64("total", pt.Total),
			logging.Float("itemsPerSec", float64(processed)/elapsed.Seconds()))
	}
}

// GetProgress returns the current progress
func (pt *ProgressTracker) GetProgress() (int64, int64, float64) {
	processed := atomic.LoadInt64(&pt.Processed)
	if pt.Total == 0 {
		return processed, 0, 100
	}
	percentage := float64(processed) / float64(pt.Total) * 100
	return processed, pt.Total, percentage
}

// ParallelProcessor provides utilities for parallel processing
type ParallelProcessor struct {
	NumWorkers int
}

// NewParallelProcessor creates a new parallel processor
func NewParallelProcessor(numWorkers int) *ParallelProcessor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	return &ParallelProcessor{
		NumWorkers: numWorkers,
	}
}

// ProcessBatch runs workFunc over items in parallel and returns the non-nil
// results in completion order. progress, when set, is incremented once per
// item.
func (pp *ParallelProcessor) ProcessBatch(items []any, workFunc func(any) any, progress Counter) []any {
	if len(items) == 0 {
		return []any{}
	}

	wp := newWorkerPool(min(pp.NumWorkers, len(items)), len(items), func(job any) any {
		result := workFunc(job)
		if progress != nil {
			progress.Increment()
		}
		return result
	})
	for _, item := range items {
		wp.jobs <- item
	}
	close(wp.jobs)

	results := make([]any, 0, len(items))
	for range items {
		if result := <-wp.results; result != nil {
			results = append(results, result)
		}
	}
	wp.wg.Wait()
	return results
}
