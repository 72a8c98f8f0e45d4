// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigapply"
	"github.com/grailbio/bigapply/instrument"
	"github.com/grailbio/bigapply/progress"
	"github.com/grailbio/bigapply/transfer"
	"github.com/grailbio/bigmachine"
)

func init() {
	gob.Register(&worker{})
}

// messageBuffer is the number of status messages a worker may queue
// before progress reports are dropped.
const messageBuffer = 1024

// Worker is the service that processes work items. Its exported
// fields are its initialization state: they are transmitted to each
// worker process, which then rebuilds the instrumented function once,
// in Init. The function is not modified afterwards.
type worker struct {
	// Invocation is the function invocation applied by the worker.
	Invocation bigapply.Invocation
	// Op is the index of the operation whose adapter processes
	// partitions.
	Op uint64

	fn      *instrument.Func
	adapter bigapply.Adapter

	mu      sync.Mutex
	results map[int]workResult
}

type workResult struct {
	value interface{}
	err   error
}

// Init instruments the worker's function and looks up its adapter.
func (w *worker) Init(b *bigmachine.B) error {
	fn, err := w.Invocation.Instrument()
	if err != nil {
		return err
	}
	op, err := bigapply.LookupOp(w.Op)
	if err != nil {
		return errors.E(errors.Fatal, err)
	}
	w.fn = fn
	w.adapter = op.Adapter()
	w.results = make(map[int]workResult)
	return nil
}

// Run processes the provided work item. The worker's status messages
// are streamed back as a sequence of gob-encoded progress.Messages in
// the returned reader, which is closed after the terminal message.
func (w *worker) Run(ctx context.Context, item workItem, rc *io.ReadCloser) error {
	var (
		r, pw = io.Pipe()
		msgs  = make(chan progress.Message, messageBuffer)
	)
	go func() {
		// Work is never canceled once started: it outlives the call.
		w.process(context.Background(), item, msgs)
		close(msgs)
	}()
	go func() {
		enc := gob.NewEncoder(pw)
		for m := range msgs {
			if err := enc.Encode(m); err != nil {
				log.Error.Printf("worker %d: stream: %v", item.Index, err)
				pw.CloseWithError(err)
				for range msgs {
				}
				return
			}
		}
		pw.Close()
	}()
	*rc = r
	return nil
}

// resultReply is the reply payload for Worker.Result.
type resultReply struct {
	Value interface{}
}

// Result returns the value computed for the work item with the
// provided index, or the error with which it failed.
func (w *worker) Result(ctx context.Context, index int, reply *resultReply) error {
	v, err := w.result(index)
	if err != nil {
		return err
	}
	reply.Value = v
	return nil
}

// FuncLocations returns the registration locations of the worker
// binary's funcs and operations.
func (w *worker) FuncLocations(ctx context.Context, _ struct{}, locs *[]string) error {
	*locs = bigapply.FuncLocations()
	return nil
}

func (w *worker) result(index int) (interface{}, error) {
	w.mu.Lock()
	r, ok := w.results[index]
	w.mu.Unlock()
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("no result for partition %d", index))
	}
	return r.value, r.err
}

func (w *worker) setResult(index int, v interface{}, err error) {
	w.mu.Lock()
	w.results[index] = workResult{v, err}
	w.mu.Unlock()
}

// process processes a single work item, reporting to q. The item's
// outcome is recorded before its terminal message is sent, so that it
// is available to Result as soon as the coordinator observes the
// message.
func (w *worker) process(ctx context.Context, item workItem, q chan<- progress.Message) {
	v, err := w.apply(ctx, item, q)
	if err == nil && item.Payload.Shared() {
		err = transfer.Store(ctx, item.Payload, v)
		v = nil
	}
	w.setResult(item.Index, v, err)
	if err != nil {
		q <- progress.ErrorMessage(item.Index, err)
		return
	}
	q <- progress.ValueMessage(item.Index)
}

func (w *worker) apply(ctx context.Context, item workItem, q chan<- progress.Message) (v interface{}, err error) {
	defer func() {
		if e := recover(); e != nil {
			stack := debug.Stack()
			err = errors.E(errors.Fatal, fmt.Sprintf("panic while processing partition %d: %v\n%s", item.Index, e, stack))
		}
	}()
	partition, err := transfer.Load(ctx, item.Payload)
	if err != nil {
		return nil, err
	}
	if item.Payload.Shared() {
		q <- progress.InputReadMessage(item.Index)
	}
	fn := w.fn
	if item.Period > 0 {
		fn = instrument.WithProgress(fn, item.Period, item.Index, q)
	}
	return w.adapter.Work(ctx, partition, item.Index, item.Meta, fn, item.Args...)
}
