package batch

import (
	"fmt"
	"sync"
	"testing"

	"github.com/penguicky/ArkSigning/pkg/signerr"
)

func TestRunAllSucceed(t *testing.T) {
	tasks := []Task{
		{InputPath: "a.ipa", OutputPath: "out/a.ipa", IsZip: true},
		{InputPath: "b.ipa", OutputPath: "out/b.ipa", IsZip: true},
		{InputPath: "c.app", OutputPath: "out/c.app"},
	}

	var mu sync.Mutex
	var stages []string
	sink := func(ev Event) {
		mu.Lock()
		stages = append(stages, ev.Stage)
		mu.Unlock()
	}

	results := Run(tasks, 2, func(t Task) error { return nil }, sink)
	if len(results) != len(tasks) {
		t.Fatalf("got %d results, want %d", len(results), len(tasks))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("task %s unexpectedly failed: %v", r.Task.InputPath, r.Err)
		}
	}

	doneCount := 0
	for _, s := range stages {
		if s == StageDone {
			doneCount++
		}
	}
	if doneCount != len(tasks) {
		t.Errorf("got %d done events, want %d", doneCount, len(tasks))
	}
}

func TestRunReportsFailuresByKind(t *testing.T) {
	tasks := []Task{
		{InputPath: "good.ipa", OutputPath: "out/good.ipa", IsZip: true},
		{InputPath: "bad.ipa", OutputPath: "out/bad.ipa", IsZip: true},
	}

	work := func(t Task) error {
		if t.InputPath == "bad.ipa" {
			return signerr.New(signerr.BundleMalformed, "test", fmt.Errorf("corrupt zip"))
		}
		return nil
	}

	results := Run(tasks, 2, work, nil)
	counts := KindCounts(results)
	if counts[signerr.BundleMalformed] != 1 {
		t.Fatalf("expected 1 BundleMalformed failure, got %d", counts[signerr.BundleMalformed])
	}
}

func TestRunDefaultsParallelismToOne(t *testing.T) {
	tasks := []Task{{InputPath: "only.ipa"}}
	results := Run(tasks, 0, func(t Task) error { return nil }, nil)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}
