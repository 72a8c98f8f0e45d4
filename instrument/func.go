// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package instrument rewrites user functions at runtime. It provides
// partial application of named parameters (Partial) and injection of
// periodic progress reports (WithProgress), both without access to the
// function's source. Functions are represented by Func, a reflective
// callable with named parameters.
package instrument

import (
	"context"
	"fmt"
	"reflect"

	"github.com/grailbio/base/errors"
)

var (
	typeOfContext = reflect.TypeOf((*context.Context)(nil)).Elem()
	typeOfError   = reflect.TypeOf((*error)(nil)).Elem()
)

// Func is a user function together with the names of its declared
// parameters. A leading context.Context parameter is not named: it is
// supplied by Call.
//
// Funcs are immutable; Partial and WithProgress return new Funcs.
type Func struct {
	name   string
	params []string
	// consts is the constant pool of values bound by Partial, in
	// first-seen order.
	consts []reflect.Value
	fn     reflect.Value

	contextFunc bool
	valueOut    bool
	errorOut    bool
}

// Of creates a Func from the provided function value and parameter
// names. The number of names must match the number of (non-context)
// parameters. The function may return nothing, a single value, an
// error, or a value and an error.
func Of(fn interface{}, params ...string) (*Func, error) {
	return named("", fn, params)
}

func named(name string, fn interface{}, params []string) (*Func, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("instrument.Of: argument is a %T, not a func", fn))
	}
	if v.IsNil() {
		return nil, errors.E(errors.Invalid, "instrument.Of: nil func")
	}
	t := v.Type()
	f := &Func{name: name, fn: v}
	nin := t.NumIn()
	if nin > 0 && t.In(0) == typeOfContext {
		f.contextFunc = true
		nin--
	}
	if len(params) != nin {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("instrument.Of: function takes %d parameters, %d names given", nin, len(params)))
	}
	seen := make(map[string]bool)
	for _, p := range params {
		if p == "" {
			return nil, errors.E(errors.Invalid, "instrument.Of: empty parameter name")
		}
		if seen[p] {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("instrument.Of: duplicate parameter %s", p))
		}
		seen[p] = true
	}
	f.params = append([]string(nil), params...)
	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == typeOfError {
			f.errorOut = true
		} else {
			f.valueOut = true
		}
	case 2:
		if t.Out(1) != typeOfError {
			return nil, errors.E(errors.Invalid, "instrument.Of: second return value must be an error")
		}
		f.valueOut, f.errorOut = true, true
	default:
		return nil, errors.E(errors.Invalid, "instrument.Of: function returns too many values")
	}
	if f.name == "" {
		f.name = t.String()
	}
	return f, nil
}

// Named is like Of, but also names the function.
func Named(name string, fn interface{}, params ...string) (*Func, error) {
	return named(name, fn, params)
}

// Name returns the function's name.
func (f *Func) Name() string { return f.name }

// Params returns the names of the function's remaining parameters.
func (f *Func) Params() []string { return append([]string(nil), f.params...) }

// NumIn returns the number of (non-context) parameters.
func (f *Func) NumIn() int { return len(f.params) }

// In returns the type of the i'th (non-context) parameter.
func (f *Func) In(i int) reflect.Type {
	if f.contextFunc {
		i++
	}
	return f.fn.Type().In(i)
}

// Out returns the type of the function's value output, or nil if the
// function returns only an error or nothing at all.
func (f *Func) Out() reflect.Type {
	if !f.valueOut {
		return nil
	}
	return f.fn.Type().Out(0)
}

// Type returns the function's reflected type.
func (f *Func) Type() reflect.Type { return f.fn.Type() }

// Interface returns the underlying Go function value. Its dynamic type
// is the function's current signature: for a Func produced by Partial
// the bound parameters are absent.
func (f *Func) Interface() interface{} { return f.fn.Interface() }

func (f *Func) String() string {
	return fmt.Sprintf("%s(%v)", f.name, f.params)
}

// Call invokes f with the provided arguments. The context is passed
// if f takes one. Call returns f's value output (or nil) and its
// error output (or nil). Argument type or arity mismatches panic, as
// in reflect.
func (f *Func) Call(ctx context.Context, args ...interface{}) (interface{}, error) {
	t := f.fn.Type()
	in := make([]reflect.Value, 0, len(args)+1)
	if f.contextFunc {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	for i, arg := range args {
		var typ reflect.Type
		switch {
		case t.IsVariadic() && len(in) >= t.NumIn()-1:
			typ = t.In(t.NumIn() - 1).Elem()
		case len(in) < t.NumIn():
			typ = t.In(len(in))
		default:
			panic(fmt.Sprintf("%s: too many arguments: %d", f.name, len(args)))
		}
		in = append(in, valueOf(arg, typ, i))
	}
	return f.results(f.fn.Call(in))
}

func (f *Func) results(out []reflect.Value) (val interface{}, err error) {
	if f.valueOut {
		val = out[0].Interface()
	}
	if f.errorOut {
		if e := out[len(out)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
	}
	return
}

// valueOf returns a reflect.Value for arg, using the zero value of typ
// for nil arguments.
func valueOf(arg interface{}, typ reflect.Type, i int) reflect.Value {
	if arg == nil {
		return reflect.Zero(typ)
	}
	v := reflect.ValueOf(arg)
	if !v.Type().AssignableTo(typ) {
		panic(fmt.Sprintf("wrong type for argument %d: expected %s, got %s", i, typ, v.Type()))
	}
	return v
}
