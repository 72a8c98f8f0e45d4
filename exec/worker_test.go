// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/gob"
	"io"
	"reflect"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigapply"
	"github.com/grailbio/bigapply/adapters"
	"github.com/grailbio/bigapply/progress"
	"github.com/grailbio/bigapply/transfer"
	"github.com/grailbio/testutil"
)

func newTestWorker(t *testing.T, fn *bigapply.FuncValue, op *bigapply.Op) *worker {
	t.Helper()
	w := &worker{Invocation: fn.Invocation(), Op: op.Index()}
	if err := w.Init(nil); err != nil {
		t.Fatal(err)
	}
	return w
}

func drain(q <-chan progress.Message) []progress.Message {
	var msgs []progress.Message
	for m := range q {
		msgs = append(msgs, m)
	}
	return msgs
}

func TestWorkerProtocol(t *testing.T) {
	ctx := context.Background()
	w := newTestWorker(t, fnSquare, adapters.Map)
	q := make(chan progress.Message, 1000)
	w.process(ctx, workItem{
		Index:   2,
		Payload: transfer.Payload{Data: rangeSlice(0, 100)},
		Period:  10,
	}, q)
	close(q)
	msgs := drain(q)
	if got, want := len(msgs), 11; got != want {
		t.Fatalf("got %v, want %v: %v", got, want, msgs)
	}
	for i, m := range msgs[:10] {
		if got, want := m, progress.ProgressMessage(2, int64(10*i)); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	if got, want := msgs[10], progress.ValueMessage(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	v, err := w.result(2)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v, squares(100); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := w.result(0); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected not exist error, got %v", err)
	}
}

func TestWorkerSharedProtocol(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	x := transfer.New(transfer.Shared, dir)
	defer x.Close(ctx)
	payload, err := x.Put(ctx, 0, rangeSlice(0, 10))
	if err != nil {
		t.Fatal(err)
	}
	w := newTestWorker(t, fnSquare, adapters.Map)
	q := make(chan progress.Message, 10)
	w.process(ctx, workItem{Index: 0, Payload: payload}, q)
	close(q)
	msgs := drain(q)
	if got, want := msgs, []progress.Message{progress.InputReadMessage(0), progress.ValueMessage(0)}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if v, err := w.result(0); err != nil || v != nil {
		t.Errorf("unexpected result %v, %v", v, err)
	}
	v, err := x.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v, squares(10); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWorkerError(t *testing.T) {
	ctx := context.Background()
	w := newTestWorker(t, fnSquareFail, adapters.Map)
	q := make(chan progress.Message, 10)
	w.process(ctx, workItem{Index: 1, Payload: transfer.Payload{Data: []int{5, 6, 7, 8}}}, q)
	close(q)
	msgs := drain(q)
	if got, want := len(msgs), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := msgs[0].Kind, progress.Error; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !errors.Is(errors.Invalid, msgs[0].Failure()) {
		t.Errorf("expected invalid error, got %v", msgs[0].Failure())
	}
	if _, err := w.result(1); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestWorkerStream(t *testing.T) {
	ctx := context.Background()
	w := newTestWorker(t, fnPanic, adapters.Map)
	var rc io.ReadCloser
	if err := w.Run(ctx, workItem{Index: 0, Payload: transfer.Payload{Data: []int{1, 2, 3}}, Period: 1}, &rc); err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	var (
		dec  = gob.NewDecoder(rc)
		msgs []progress.Message
	)
	for {
		var m progress.Message
		if err := dec.Decode(&m); err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		t.Fatal("no messages")
	}
	last := msgs[len(msgs)-1]
	if got, want := last.Kind, progress.Error; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if err := last.Failure(); err == nil || errors.Recover(err).Severity != errors.Fatal {
		t.Errorf("expected fatal error, got %v", last.Failure())
	}
	var locs []string
	if err := w.FuncLocations(ctx, struct{}{}, &locs); err != nil {
		t.Fatal(err)
	}
	if got, want := locs, bigapply.FuncLocations(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWorkerInitInvalid(t *testing.T) {
	w := &worker{Invocation: fnSquare.Invocation(), Op: 1 << 20}
	if err := w.Init(nil); err == nil {
		t.Error("expected error")
	}
}
