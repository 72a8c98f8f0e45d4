// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package instrument

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/grailbio/base/errors"
)

// A slot describes where the value of one of the original function's
// parameters comes from in a partially applied function: either the
// constant pool (bound parameters) or the new argument list.
type slot struct {
	bound bool
	// index is the constant pool index if bound, and the dense index
	// of the surviving argument otherwise.
	index int
}

// Partial returns a new Func with the named parameters bound to the
// provided values. The bound parameters are removed from the returned
// function's signature; the remaining parameters keep their relative
// order. That is, for f(a, b, c) and bindings {b: 5}:
//
//	g, _ := Partial(f, "", map[string]interface{}{"b": 5})
//	g(a, c) == f(a, 5, c)
//
// The returned function retains f's name unless name is nonempty.
// Partial fails with an error of kind errors.Invalid if a binding
// does not name a parameter of f, or if a bound value cannot be
// assigned to its parameter; f itself is never modified.
func Partial(f *Func, name string, bindings map[string]interface{}) (*Func, error) {
	index := make(map[string]int, len(f.params))
	for i, p := range f.params {
		index[p] = i
	}
	names := make([]string, 0, len(bindings))
	for k := range bindings {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if _, ok := index[k]; !ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s is not a parameter of %s", k, f))
		}
	}
	values := make(map[string]reflect.Value, len(bindings))
	for _, k := range names {
		typ := f.In(index[k])
		v := bindings[k]
		if v == nil {
			switch typ.Kind() {
			case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
			default:
				return nil, errors.E(errors.Invalid, fmt.Sprintf("cannot bind nil to parameter %s of type %s", k, typ))
			}
			values[k] = reflect.Zero(typ)
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(typ) {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("cannot bind value of type %s to parameter %s of type %s", rv.Type(), k, typ))
		}
		if rv.Type() != typ {
			rv = rv.Convert(typ)
		}
		values[k] = rv
	}

	// The new constant pool is f's pool followed by the newly bound
	// values, deduplicated, in first-seen (declaration) order.
	consts := append([]reflect.Value(nil), f.consts...)
	var (
		layout = make([]slot, len(f.params))
		params []string
	)
	for i, p := range f.params {
		v, ok := values[p]
		if !ok {
			layout[i] = slot{index: len(params)}
			params = append(params, p)
			continue
		}
		j := constIndex(consts, v)
		if j < 0 {
			j = len(consts)
			consts = append(consts, v)
		}
		layout[i] = slot{bound: true, index: j}
	}

	t := f.fn.Type()
	var in []reflect.Type
	if f.contextFunc {
		in = append(in, typeOfContext)
	}
	for i := range f.params {
		if !layout[i].bound {
			in = append(in, f.In(i))
		}
	}
	out := make([]reflect.Type, t.NumOut())
	for i := range out {
		out[i] = t.Out(i)
	}
	variadic := t.IsVariadic() && !layout[len(layout)-1].bound

	var (
		fn     = f.fn
		ctxOff = 0
	)
	if f.contextFunc {
		ctxOff = 1
	}
	impl := func(args []reflect.Value) []reflect.Value {
		full := make([]reflect.Value, t.NumIn())
		if f.contextFunc {
			full[0] = args[0]
		}
		for i, s := range layout {
			if s.bound {
				full[i+ctxOff] = consts[s.index]
			} else {
				full[i+ctxOff] = args[s.index+ctxOff]
			}
		}
		if t.IsVariadic() {
			return fn.CallSlice(full)
		}
		return fn.Call(full)
	}
	g := &Func{
		name:        f.name,
		params:      params,
		consts:      consts,
		fn:          reflect.MakeFunc(reflect.FuncOf(in, out, variadic), impl),
		contextFunc: f.contextFunc,
		valueOut:    f.valueOut,
		errorOut:    f.errorOut,
	}
	if name != "" {
		g.name = name
	}
	return g, nil
}

// constIndex returns the index of a constant equal to v in consts, or
// -1. Only values whose dynamic contents are comparable are
// deduplicated.
func constIndex(consts []reflect.Value, v reflect.Value) int {
	if !canCompare(v) {
		return -1
	}
	for i, c := range consts {
		if c.Type() != v.Type() || !canCompare(c) {
			continue
		}
		if c.Interface() == v.Interface() {
			return i
		}
	}
	return -1
}

// canCompare tells whether v may be compared with == without
// panicking. Interface values, including those nested in structs and
// arrays, are comparable only if their dynamic values are.
func canCompare(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Interface:
		return v.IsNil() || canCompare(v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !canCompare(v.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !canCompare(v.Index(i)) {
				return false
			}
		}
		return true
	}
	return v.Type().Comparable()
}
