// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigapply"
	"github.com/grailbio/bigapply/progress"
	"github.com/grailbio/bigmachine"
	"golang.org/x/sync/errgroup"
)

// BigmachineExecutor is an executor that runs each worker of a pool
// on its own bigmachine machine. With bigmachine.Local, each machine
// is a separate process running the same binary.
type bigmachineExecutor struct {
	system bigmachine.System
	params []bigmachine.Param

	sess   *Session
	b      *bigmachine.B
	status *status.Group
}

func newBigmachineExecutor(system bigmachine.System, params ...bigmachine.Param) *bigmachineExecutor {
	return &bigmachineExecutor{system: system, params: params}
}

func (*bigmachineExecutor) Name() string { return "bigmachine" }

// Start starts the underlying bigmachine. In worker processes,
// bigmachine.Start does not return.
func (b *bigmachineExecutor) Start(sess *Session) (shutdown func()) {
	b.sess = sess
	b.b = bigmachine.Start(b.system)
	if status := sess.Status(); status != nil {
		b.status = status.Group("bigmachine")
	}
	return b.b.Shutdown
}

// Pool starts n machines, each running a worker service, and waits
// for them to become ready. Each machine's funcs are verified against
// the driver's: a worker binary that registered different funcs
// cannot apply the driver's invocations.
func (b *bigmachineExecutor) Pool(ctx context.Context, n int, w *worker) (pool, error) {
	params := append([]bigmachine.Param{bigmachine.Services{"Worker": w}}, b.params...)
	machines, err := b.b.Start(ctx, n, params...)
	if err != nil {
		return nil, err
	}
	p := &machinePool{machines: machines, errs: make([]error, len(machines))}
	g, gctx := errgroup.WithContext(ctx)
	for i := range machines {
		m := machines[i]
		var task *status.Task
		if b.status != nil {
			task = b.status.Start()
			task.Print("waiting for machine to boot")
			p.tasks = append(p.tasks, task)
		}
		g.Go(func() error {
			err := waitMachine(gctx, m)
			if task != nil {
				if err != nil {
					task.Printf("failed to start: %v", err)
				} else {
					task.Title(m.Addr)
					task.Print("running")
				}
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func waitMachine(ctx context.Context, m *bigmachine.Machine) error {
	select {
	case <-m.Wait(bigmachine.Running):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := m.Err(); err != nil {
		log.Printf("machine %s failed to start: %v", m.Addr, err)
		return errors.E(errors.Unavailable, fmt.Sprintf("machine %s failed to start", m.Addr), err)
	}
	var locs []string
	if err := m.RetryCall(ctx, "Worker.FuncLocations", struct{}{}, &locs); err != nil {
		return errors.E(fmt.Sprintf("machine %s: failed to verify funcs", m.Addr), err)
	}
	if diff := bigapply.FuncLocationsDiff(bigapply.FuncLocations(), locs); len(diff) > 0 {
		for _, edit := range diff {
			log.Printf("[funcsdiff] %s", edit)
		}
		return errors.E(errors.Fatal, fmt.Sprintf("machine %s has different funcs; check for local or non-deterministic Func creation", m.Addr))
	}
	log.Debug.Printf("machine %v is ready", m.Addr)
	return nil
}

func (b *bigmachineExecutor) HandleDebug(handler *http.ServeMux) {
	b.b.HandleDebug(handler)
}

// MachinePool is a pool of bigmachine machines, one per work item.
type machinePool struct {
	machines []*bigmachine.Machine
	tasks    []*status.Task

	mu sync.Mutex
	// errs holds, for each worker, the error (if any) that broke its
	// message stream.
	errs []error
}

// Submit calls Worker.Run on the item's machine and relays the
// resulting message stream to q. If the stream breaks before the
// worker's terminal message, Submit reports the failure as an Error
// message for the worker.
func (p *machinePool) Submit(ctx context.Context, item workItem, q chan<- progress.Message) {
	m := p.machines[item.Index]
	go func() {
		var rc io.ReadCloser
		if err := m.Call(ctx, "Worker.Run", item, &rc); err != nil {
			p.fail(item.Index, q, errors.E(fmt.Sprintf("machine %s: Worker.Run", m.Addr), err))
			return
		}
		defer rc.Close()
		var (
			dec      = gob.NewDecoder(rc)
			terminal bool
		)
		for {
			var msg progress.Message
			if err := dec.Decode(&msg); err != nil {
				if !terminal {
					if err == io.EOF {
						err = io.ErrUnexpectedEOF
					}
					p.fail(item.Index, q, errors.E(errors.Unavailable, fmt.Sprintf("machine %s: lost worker %d", m.Addr, item.Index), err))
				}
				return
			}
			q <- msg
			terminal = terminal || msg.Terminal()
		}
	}()
}

func (p *machinePool) fail(index int, q chan<- progress.Message, err error) {
	p.mu.Lock()
	p.errs[index] = err
	p.mu.Unlock()
	q <- progress.ErrorMessage(index, err)
}

// Result returns the stream failure of the provided worker, if any;
// otherwise it retrieves the worker's result by calling Worker.Result.
func (p *machinePool) Result(ctx context.Context, index int) (interface{}, error) {
	p.mu.Lock()
	err := p.errs[index]
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var reply resultReply
	if err := p.machines[index].Call(ctx, "Worker.Result", index, &reply); err != nil {
		return nil, err
	}
	return reply.Value, nil
}

// Close cancels the pool's machines.
func (p *machinePool) Close() {
	for _, m := range p.machines {
		m.Cancel()
	}
	for _, task := range p.tasks {
		task.Done()
	}
}
