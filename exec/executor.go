// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"net/http"

	"github.com/grailbio/bigapply/progress"
	"github.com/grailbio/bigapply/transfer"
)

// Executor starts the worker pools of a session. Each invocation
// run by the session gets its own pool.
type executor interface {
	// Name returns a human-friendly name for this executor.
	Name() string

	// Start starts the executor. It is called before any pools are
	// requested. The returned function is called when the session is
	// shut down.
	Start(*Session) (shutdown func())

	// Pool starts n workers, each initialized with (a copy of) the
	// provided worker state. Pool returns once all workers are ready
	// to accept work, or with the first failure.
	Pool(ctx context.Context, n int, w *worker) (pool, error)

	// HandleDebug adds executor-specific debug handlers to the
	// provided mux.
	HandleDebug(handler *http.ServeMux)
}

// A pool is a fixed-size set of workers, one per partition. Worker i
// processes the work item with index i.
type pool interface {
	// Submit dispatches item to its worker without waiting for it to
	// complete. The worker's status messages are delivered to q; the
	// last message is always Value or Error.
	Submit(ctx context.Context, item workItem, q chan<- progress.Message)

	// Result returns the value computed for the item with the provided
	// index, or the error with which it failed. Result must be called
	// only after the item's terminal message has been received. In
	// shared transfer mode, the value is stored in the item's output
	// file instead, and Result returns nil.
	Result(ctx context.Context, index int) (interface{}, error)

	// Close tears down the pool's workers.
	Close()
}

// A workItem is the unit of work sent to a worker: one partition (or
// a reference to it) together with its processing parameters.
type workItem struct {
	// Index is the partition's index, which is also the index of the
	// worker processing it.
	Index int
	// Payload carries the partition or, in shared transfer mode, the
	// paths of its input and output files.
	Payload transfer.Payload
	// Meta is the adapter-provided worker metadata.
	Meta interface{}
	// Period is the number of function calls between progress
	// reports. Progress is not reported if Period is 0.
	Period int64
	// Args are the extra arguments passed through to the adapter.
	Args []interface{}
}
