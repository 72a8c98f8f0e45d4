// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"net/http"

	"github.com/grailbio/bigapply/progress"
)

// LocalExecutor is an executor that runs workers in-process, each in
// its own goroutine. Partitions and results are not serialized in
// direct transfer mode.
type localExecutor struct{}

func newLocalExecutor() *localExecutor {
	return new(localExecutor)
}

func (*localExecutor) Name() string { return "local" }

func (*localExecutor) Start(sess *Session) (shutdown func()) {
	return func() {}
}

func (*localExecutor) Pool(ctx context.Context, n int, w *worker) (pool, error) {
	p := &localPool{workers: make([]*worker, n)}
	for i := range p.workers {
		p.workers[i] = &worker{Invocation: w.Invocation, Op: w.Op}
		if err := p.workers[i].Init(nil); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (*localExecutor) HandleDebug(handler *http.ServeMux) {}

type localPool struct {
	workers []*worker
}

func (p *localPool) Submit(ctx context.Context, item workItem, q chan<- progress.Message) {
	go p.workers[item.Index].process(context.Background(), item, q)
}

func (p *localPool) Result(ctx context.Context, index int) (interface{}, error) {
	return p.workers[index].result(index)
}

func (*localPool) Close() {}
