// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package progress

import (
	"fmt"

	"github.com/grailbio/base/status"
)

// Display renders per-worker progress. Displays are used only by the
// aggregator and need not be safe for concurrent use.
type Display interface {
	// Update is called with the current progress of every worker.
	Update(progress []int64)
	// SetError marks the given worker as failed.
	SetError(worker int)
}

// Nop is a Display that displays nothing.
var Nop Display = nopDisplay{}

type nopDisplay struct{}

func (nopDisplay) Update([]int64) {}
func (nopDisplay) SetError(int)   {}

// StatusDisplay is a Display that maintains a status.Task for each
// worker.
type StatusDisplay struct {
	lens   []int64
	tasks  []*status.Task
	failed []bool
	last   []int64
}

// NewStatusDisplay returns a Display that reports the progress of
// each worker as a task in the provided status group. lens contains
// the size of each worker's partition. Close marks all tasks done.
func NewStatusDisplay(group *status.Group, lens []int64) *StatusDisplay {
	d := &StatusDisplay{
		lens:   lens,
		tasks:  make([]*status.Task, len(lens)),
		failed: make([]bool, len(lens)),
		last:   make([]int64, len(lens)),
	}
	for i := range d.tasks {
		d.tasks[i] = group.Start(fmt.Sprintf("worker %d", i))
		d.last[i] = -1
		d.print(i, 0)
	}
	return d
}

func (d *StatusDisplay) Update(progress []int64) {
	for i, p := range progress {
		if d.failed[i] || p == d.last[i] {
			continue
		}
		d.print(i, p)
	}
}

func (d *StatusDisplay) SetError(worker int) {
	d.failed[worker] = true
	d.tasks[worker].Printf("failed at %d/%d", d.last[worker], d.lens[worker])
}

func (d *StatusDisplay) print(i int, p int64) {
	d.last[i] = p
	if n := d.lens[i]; n > 0 {
		d.tasks[i].Printf("%d/%d (%d%%)", p, n, 100*p/n)
	} else {
		d.tasks[i].Printf("%d/%d", p, n)
	}
}

// Close marks every worker task as done.
func (d *StatusDisplay) Close() {
	for _, task := range d.tasks {
		task.Done()
	}
}
