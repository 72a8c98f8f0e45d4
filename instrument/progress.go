// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package instrument

import (
	"reflect"
	"sync/atomic"

	"github.com/grailbio/bigapply/progress"
)

// WithProgress returns a Func with the same signature as f that
// reports progress to q. Each call to the returned function takes the
// next iteration number from a counter, starting at 0. When the
// iteration is a multiple of period, a progress message for worker
// is sent on q without blocking; the message is dropped if q is full.
// The function then calls f, whose results are returned unchanged.
//
// A period less than 1 is treated as 1.
func WithProgress(f *Func, period int64, worker int, q progress.Queue) *Func {
	if period < 1 {
		period = 1
	}
	var (
		counter int64 = -1
		fn            = f.fn
		t             = fn.Type()
	)
	impl := func(args []reflect.Value) []reflect.Value {
		iter := atomic.AddInt64(&counter, 1)
		if iter%period == 0 {
			q.TrySend(progress.ProgressMessage(worker, iter))
		}
		if t.IsVariadic() {
			return fn.CallSlice(args)
		}
		return fn.Call(args)
	}
	g := *f
	g.fn = reflect.MakeFunc(t, impl)
	return &g
}
