package evo

import (
	"context"
	"time"
)

// Report is the outcome of one developed generation.
type Report struct {
	Culture     string
	Generation  int
	Champion    *Entity
	Diagnostics Diagnostics
	Elapsed     time.Duration
}

// Task is the handle of one in-flight generation.
type Task struct {
	culture *Culture
	done    chan struct{}
	report  Report
	err     error
}

func newTask(c *Culture) *Task {
	return &Task{culture: c, done: make(chan struct{})}
}

func (t *Task) finish(report Report, err error) {
	t.report, t.err = report, err
	close(t.done)
}

func (t *Task) Culture() *Culture {
	return t.culture
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the outcome of a finished task. It blocks until Done.
func (t *Task) Result() (Report, error) {
	<-t.done
	return t.report, t.err
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) (Report, error) {
	select {
	case <-t.done:
		return t.report, t.err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}
