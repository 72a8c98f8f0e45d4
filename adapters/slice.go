// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package adapters provides bigapply operations for common dataset
// shapes: slices (Map, Apply) and keyed records (Grouped).
package adapters

import (
	"context"
	"fmt"
	"reflect"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigapply"
	"github.com/grailbio/bigapply/instrument"
)

var (
	// Map applies a function to every element of a slice. The
	// function's first parameter receives the element; the extra
	// arguments passed to Run follow. The result is the slice of the
	// function's return values, in the order of the input.
	Map = bigapply.Operation("map", sliceMap{})

	// Apply applies a function to each partition of a slice. The
	// function's first parameter receives the partition, which has the
	// type of the dataset. The result is a []interface{} containing
	// the function's return value for each partition, in partition
	// order.
	Apply = bigapply.Operation("apply", sliceApply{})
)

// Split splits the slice v into n contiguous partitions whose lengths
// differ by at most one; earlier partitions are the longer ones. When
// v has fewer than n elements, the trailing partitions are empty.
func Split(n int, v interface{}) ([]interface{}, error) {
	if n <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("invalid partition count %d", n))
	}
	s := reflect.ValueOf(v)
	if s.Kind() != reflect.Slice {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset is a %T, not a slice", v))
	}
	var (
		size  = s.Len() / n
		extra = s.Len() % n
		parts = make([]interface{}, n)
		beg   int
	)
	for i := range parts {
		end := beg + size
		if i < extra {
			end++
		}
		parts[i] = s.Slice3(beg, end, end).Interface()
		beg = end
	}
	return parts, nil
}

type sliceMap struct{}

func (sliceMap) Chunks(n int, data interface{}, args ...interface{}) ([]interface{}, error) {
	return Split(n, data)
}

func (sliceMap) Work(ctx context.Context, partition interface{}, index int, meta interface{}, fn *instrument.Func, args ...interface{}) (interface{}, error) {
	v := reflect.ValueOf(partition)
	if v.Kind() != reflect.Slice {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("partition %d is a %T, not a slice", index, partition))
	}
	var (
		typ  = fn.Out()
		out  reflect.Value
		argv = make([]interface{}, 1+len(args))
	)
	if typ != nil {
		out = reflect.MakeSlice(reflect.SliceOf(typ), 0, v.Len())
	}
	copy(argv[1:], args)
	for i := 0; i < v.Len(); i++ {
		argv[0] = v.Index(i).Interface()
		r, err := fn.Call(ctx, argv...)
		if err != nil {
			return nil, err
		}
		if typ != nil {
			out = reflect.Append(out, valueOf(r, typ))
		}
	}
	if typ == nil {
		return nil, nil
	}
	return out.Interface(), nil
}

// Reduce concatenates the partition results.
func (sliceMap) Reduce(results []interface{}, meta interface{}) (interface{}, error) {
	var out reflect.Value
	for i, r := range results {
		if r == nil {
			continue
		}
		v := reflect.ValueOf(r)
		if v.Kind() != reflect.Slice {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("result %d is a %T, not a slice", i, r))
		}
		if !out.IsValid() {
			out = reflect.MakeSlice(v.Type(), 0, v.Len()*len(results))
		}
		if v.Type() != out.Type() {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("result %d has type %s, expected %s", i, v.Type(), out.Type()))
		}
		out = reflect.AppendSlice(out, v)
	}
	if !out.IsValid() {
		return nil, nil
	}
	return out.Interface(), nil
}

type sliceApply struct{}

func (sliceApply) Chunks(n int, data interface{}, args ...interface{}) ([]interface{}, error) {
	return Split(n, data)
}

func (sliceApply) Work(ctx context.Context, partition interface{}, index int, meta interface{}, fn *instrument.Func, args ...interface{}) (interface{}, error) {
	return fn.Call(ctx, append([]interface{}{partition}, args...)...)
}

func (sliceApply) Reduce(results []interface{}, meta interface{}) (interface{}, error) {
	return results, nil
}

func valueOf(v interface{}, typ reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(typ)
	}
	return reflect.ValueOf(v)
}
