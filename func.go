// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigapply

import (
	"encoding/gob"
	"fmt"
	"reflect"
	"runtime"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigapply/instrument"
)

func init() {
	gob.Register([]interface{}{})
}

var (
	// Funcs is the global registry of funcs. We rely on deterministic
	// registration order, which is guaranteed by Go's package
	// initialization: worker processes run the same binary and so
	// assign the same index to each func.
	funcs []*FuncValue
	// FuncsBusy is used to detect data races in registration.
	funcsBusy int32
)

// A FuncValue represents a user function registered with Func. The
// function is applied by workers to the elements (or partitions) of a
// dataset.
type FuncValue struct {
	fn       *instrument.Func
	index    int
	location string
}

// Func registers the provided function value together with the names
// of its parameters, and returns a FuncValue that may be applied by an
// exec.Session. A leading context.Context parameter is supplied by
// the runtime and is not named. The function may return nothing, a
// single value, an error, or a value and an error.
//
// Func must be called in a deterministic order, usually during
// package initialization:
//
//	var Square = bigapply.Func(func(x int) int { return x * x }, "x")
//
// Func panics if fn is not a function or if params do not match its
// signature. The (non-interface) parameter and return types of fn,
// and slices of them, are registered with gob so that they may be
// transmitted to workers.
func Func(fn interface{}, params ...string) *FuncValue {
	location := caller(1)
	name := funcName(fn)
	f, err := instrument.Named(name, fn, params...)
	if err != nil {
		panic(fmt.Sprintf("%s: bigapply.Func: %v", location, err))
	}
	t := f.Type()
	for i := 0; i < t.NumIn(); i++ {
		register(t.In(i))
	}
	for i := 0; i < t.NumOut(); i++ {
		register(t.Out(i))
	}
	v := &FuncValue{fn: f, location: location}
	if atomic.AddInt32(&funcsBusy, 1) != 1 {
		panic("bigapply.Func: data race")
	}
	v.index = len(funcs)
	funcs = append(funcs, v)
	if atomic.AddInt32(&funcsBusy, -1) != 0 {
		panic("bigapply.Func: data race")
	}
	return v
}

// Name returns the name of the function.
func (f *FuncValue) Name() string { return f.fn.Name() }

// NumIn returns the number of named parameters of f.
func (f *FuncValue) NumIn() int { return f.fn.NumIn() }

// In returns the type of f's i'th named parameter.
func (f *FuncValue) In(i int) reflect.Type { return f.fn.In(i) }

// Params returns the names of f's parameters.
func (f *FuncValue) Params() []string { return f.fn.Params() }

// Instrument returns f's callable representation.
func (f *FuncValue) Instrument() *instrument.Func { return f.fn }

func (f *FuncValue) String() string {
	return fmt.Sprintf("%s@%s", f.fn.Name(), f.location)
}

// Invocation returns an invocation of f with no bound parameters.
func (f *FuncValue) Invocation() Invocation {
	return newInvocation(uint64(f.index), nil)
}

// Bind returns an invocation of f with the named parameters bound to
// the provided values. The binding is validated immediately: Bind
// returns an error of kind errors.Invalid if a name is not a
// parameter of f or a value does not match its parameter's type.
func (f *FuncValue) Bind(bindings map[string]interface{}) (Invocation, error) {
	if _, err := instrument.Partial(f.fn, "", bindings); err != nil {
		return Invocation{}, err
	}
	copied := make(map[string]interface{}, len(bindings))
	for k, v := range bindings {
		copied[k] = v
	}
	return newInvocation(uint64(f.index), copied), nil
}

// Invocation represents the application of a registered Func with a
// set of bound parameters. Invocations can be transmitted across
// process boundaries and thus may be instrumented by workers running
// the same binary.
//
// Invocations must be created by FuncValue.Invocation or
// FuncValue.Bind.
type Invocation struct {
	Index    uint64
	Func     uint64
	Bindings map[string]interface{}
}

var invocationIndex uint64

func newInvocation(fn uint64, bindings map[string]interface{}) Invocation {
	return Invocation{
		Index:    atomic.AddUint64(&invocationIndex, 1),
		Func:     fn,
		Bindings: bindings,
	}
}

// FuncValue returns the registered function of the invocation.
func (i Invocation) FuncValue() *FuncValue {
	return funcs[i.Func]
}

// Instrument returns the callable that applies the invocation: the
// invocation's function with its bound parameters removed from the
// signature.
func (i Invocation) Instrument() (*instrument.Func, error) {
	if i.Func >= uint64(len(funcs)) {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("invocation %d: no func %d", i.Index, i.Func))
	}
	return instrument.Partial(funcs[i.Func].fn, "", i.Bindings)
}

// FuncLocations returns a slice of strings that describe the
// locations of Func and Operation registrations. It can be used to
// diagnose binary incompatibility between a driver and its workers.
func FuncLocations() []string {
	locs := make([]string, 0, len(funcs)+len(ops))
	for _, f := range funcs {
		locs = append(locs, f.String())
	}
	for _, op := range ops {
		locs = append(locs, op.String())
	}
	return locs
}

// FuncLocationsDiff returns a line diff of lhs and rhs, as produced
// by FuncLocations. Lines present only in lhs are prefixed by "- ";
// lines present only in rhs by "+ ". If lhs and rhs are the same, the
// diff is empty.
func FuncLocationsDiff(lhs, rhs []string) []string {
	// lcs[i][j] is the length of the longest common subsequence of
	// lhs[i:] and rhs[j:].
	lcs := make([][]int, len(lhs)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(rhs)+1)
	}
	for i := len(lhs) - 1; i >= 0; i-- {
		for j := len(rhs) - 1; j >= 0; j-- {
			switch {
			case lhs[i] == rhs[j]:
				lcs[i][j] = lcs[i+1][j+1] + 1
			case lcs[i+1][j] >= lcs[i][j+1]:
				lcs[i][j] = lcs[i+1][j]
			default:
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}
	var (
		diff    []string
		changed bool
		i, j    int
	)
	for i < len(lhs) || j < len(rhs) {
		switch {
		case i < len(lhs) && j < len(rhs) && lhs[i] == rhs[j]:
			diff = append(diff, lhs[i])
			i++
			j++
		case j == len(rhs) || (i < len(lhs) && lcs[i+1][j] >= lcs[i][j+1]):
			diff = append(diff, "- "+lhs[i])
			changed = true
			i++
		default:
			diff = append(diff, "+ "+rhs[j])
			changed = true
			j++
		}
	}
	if !changed {
		return nil
	}
	return diff
}

// register registers typ and its slice type with gob. The element
// types of slice parameters are registered too, so that they may be
// carried in interface values.
func register(typ reflect.Type) {
	switch typ.Kind() {
	case reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return
	case reflect.Slice:
		register(typ.Elem())
	}
	gob.Register(reflect.Zero(typ).Interface())
	gob.Register(reflect.Zero(reflect.SliceOf(typ)).Interface())
}

func caller(calldepth int) string {
	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func funcName(fn interface{}) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return ""
}
