// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigapply

import (
	"context"
	"encoding/gob"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigapply/instrument"
)

// An Adapter implements a parallel operation over a particular shape
// of dataset. The runtime calls back into the adapter to partition
// the dataset, to process each partition on a worker, and to combine
// the per-partition results.
type Adapter interface {
	// Chunks splits data into at most n partitions. Extra arguments
	// are those passed to exec.Session.Run. Partitions must be
	// gob-encodable.
	Chunks(n int, data interface{}, args ...interface{}) ([]interface{}, error)
	// Work computes the result of a single partition on a worker.
	// Index is the partition's index, meta is the worker metadata
	// computed by WorkerMeta (or nil), and fn is the instrumented user
	// function.
	Work(ctx context.Context, partition interface{}, index int, meta interface{}, fn *instrument.Func, args ...interface{}) (interface{}, error)
	// Reduce combines the per-partition results, given in partition
	// index order, into a final value. Meta is the reduce metadata
	// computed by ReduceMeta (or nil).
	Reduce(results []interface{}, meta interface{}) (interface{}, error)
}

// WorkerMetaer is implemented by adapters that pass dataset-level
// context to their workers. The returned value is transmitted to
// every worker and must be gob-encodable.
type WorkerMetaer interface {
	WorkerMeta(data interface{}) interface{}
}

// ReduceMetaer is implemented by adapters that pass dataset-level
// context to Reduce.
type ReduceMetaer interface {
	ReduceMeta(data interface{}) interface{}
}

// A Progresser is implemented by adapters that control whether their
// workers report progress. Adapters whose Work does not call the
// function once per partition element return false: their progress
// would not be measured in the units of the partition's length, so
// their workers report only completion.
type Progresser interface {
	Progress() bool
}

var (
	ops     []*Op
	opsBusy int32
)

// An Op is a named, registered Adapter.
type Op struct {
	name     string
	adapter  Adapter
	index    int
	location string
}

// Operation registers a named adapter. Like Func, Operation must be
// called in a deterministic order, usually during package
// initialization, so that workers can find the adapter by its index.
// The provided example values are registered with gob; they should
// cover the concrete types of the adapter's partitions, metadata and
// results.
func Operation(name string, adapter Adapter, types ...interface{}) *Op {
	location := caller(1)
	if adapter == nil {
		panic(fmt.Sprintf("%s: bigapply.Operation: nil adapter", location))
	}
	for _, v := range types {
		if v == nil {
			continue
		}
		gob.Register(v)
	}
	op := &Op{name: name, adapter: adapter, location: location}
	if atomic.AddInt32(&opsBusy, 1) != 1 {
		panic("bigapply.Operation: data race")
	}
	op.index = len(ops)
	ops = append(ops, op)
	if atomic.AddInt32(&opsBusy, -1) != 0 {
		panic("bigapply.Operation: data race")
	}
	return op
}

// Name returns the operation's name.
func (o *Op) Name() string { return o.name }

// Index returns the operation's registration index.
func (o *Op) Index() uint64 { return uint64(o.index) }

// Adapter returns the operation's adapter.
func (o *Op) Adapter() Adapter { return o.adapter }

func (o *Op) String() string {
	return fmt.Sprintf("op %s@%s", o.name, o.location)
}

// LookupOp returns the operation registered with the provided index.
func LookupOp(index uint64) (*Op, error) {
	if index >= uint64(len(ops)) {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("no operation %d", index))
	}
	return ops[index], nil
}

// A Lener reports its own length. Partitions that implement Lener
// define the element count used for progress reporting.
type Lener interface {
	Len() int
}

// Len returns the number of elements in a partition: the value of
// Len for Leners, the length of slices, arrays, maps, strings and
// channels, and 1 for everything else.
func Len(partition interface{}) int64 {
	if l, ok := partition.(Lener); ok {
		return int64(l.Len())
	}
	v := reflect.ValueOf(partition)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String, reflect.Chan:
		return int64(v.Len())
	case reflect.Invalid:
		return 0
	}
	return 1
}
