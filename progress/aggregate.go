// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package progress

import (
	"github.com/grailbio/base/log"
)

// State is the state of a worker slot as observed by the aggregator.
// States Done and Failed are terminal.
type State int

const (
	// Running is the state of a worker that has not yet finished.
	Running State = iota
	// Done is the state of a worker that finished successfully.
	Done
	// Failed is the state of a worker that finished with an error.
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Aggregate drains messages from q until every one of the len(lens)
// workers has sent a terminal message, and returns the final worker
// states. lens contains the element count of each worker's
// partition.
//
// On InputRead, release (if non-nil) is called with the partition
// index. Progress messages update the worker's progress; the display
// is refreshed only once every len(lens) progress messages. Value
// sets the worker's progress to its full length; Error marks the
// worker as failed in the display. Messages for workers that have
// already finished are ignored.
//
// Aggregate blocks until all workers are finished: there is no
// timeout, so a worker that never reports stalls the loop.
func Aggregate(q <-chan Message, lens []int64, release func(index int), display Display) []State {
	n := len(lens)
	if display == nil {
		display = Nop
	}
	var (
		states     = make([]State, n)
		progress   = make([]int64, n)
		running    = n
		generation int
	)
	for running > 0 {
		m := <-q
		if m.Kind != InputRead && (m.Worker < 0 || m.Worker >= n) {
			log.Error.Printf("progress: message %s for unknown worker", m)
			continue
		}
		switch m.Kind {
		case InputRead:
			if release != nil {
				release(m.Index())
			}
		case Progress:
			if states[m.Worker] != Running {
				continue
			}
			progress[m.Worker] = m.Iteration()
			if generation%n == 0 {
				display.Update(progress)
			}
			generation++
		case Value:
			if states[m.Worker] != Running {
				continue
			}
			states[m.Worker] = Done
			running--
			progress[m.Worker] = lens[m.Worker]
			display.Update(progress)
		case Error:
			if states[m.Worker] != Running {
				continue
			}
			states[m.Worker] = Failed
			running--
			if err := m.Failure(); err != nil {
				log.Error.Printf("worker %d failed: %v", m.Worker, err)
			}
			display.SetError(m.Worker)
			display.Update(progress)
		default:
			log.Error.Printf("progress: unknown message %s", m)
		}
	}
	return states
}
