// Package batch drives signing across many .ipa/.app inputs with a
// bounded pool of worker goroutines: a single producer loads the full
// task list into a buffered channel and closes it, N consumers range
// over the channel until it drains, and a sync.WaitGroup joins them.
// There is no work-stealing beyond the channel itself needing none.
package batch

import (
	"sync"

	"github.com/penguicky/ArkSigning/pkg/signerr"
)

// Task is one input/output pair the batch driver hands to a worker.
type Task struct {
	InputPath  string
	OutputPath string
	IsZip      bool
}

// Event is delivered to a Sink for every stage transition a task goes
// through.
type Event struct {
	Task  Task
	Stage string // discovered|signed|packaged|done|failed
	Err   error
}

const (
	StageDiscovered = "discovered"
	StageSigned     = "signed"
	StagePackaged   = "packaged"
	StageDone       = "done"
	StageFailed     = "failed"
)

// Sink receives Events from every worker under a shared mutex, so
// implementations don't need to be concurrency-safe themselves.
type Sink func(Event)

// WorkerFunc performs one Task's actual signing work.
type WorkerFunc func(Task) error

// Result summarizes one task's outcome for the caller once Run
// returns.
type Result struct {
	Task Task
	Err  error
}

// Run loads tasks into a buffered channel, starts parallelism worker
// goroutines consuming it, and blocks until every task has been
// processed, reporting each one's outcome.
func Run(tasks []Task, parallelism int, work WorkerFunc, sink Sink) []Result {
	if parallelism < 1 {
		parallelism = 1
	}

	queue := make(chan Task, len(tasks))
	for _, t := range tasks {
		queue <- t
		emit(sink, t, StageDiscovered, nil)
	}
	close(queue)

	results := make([]Result, len(tasks))
	resultIdx := make(map[Task]int, len(tasks))
	for i, t := range tasks {
		resultIdx[t] = i
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range queue {
				err := work(t)
				mu.Lock()
				if err != nil {
					emit(sink, t, StageFailed, err)
				} else {
					emit(sink, t, StageDone, nil)
				}
				results[resultIdx[t]] = Result{Task: t, Err: err}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return results
}

func emit(sink Sink, t Task, stage string, err error) {
	if sink == nil {
		return
	}
	sink(Event{Task: t, Stage: stage, Err: err})
}

// KindCounts tallies results by signerr.Kind, for a batch summary
// line distinguishing e.g. InvalidIdentity failures from IoFailure.
func KindCounts(results []Result) map[signerr.Kind]int {
	counts := map[signerr.Kind]int{}
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		if kind, ok := signerr.KindOf(r.Err); ok {
			counts[kind]++
		}
	}
	return counts
}
