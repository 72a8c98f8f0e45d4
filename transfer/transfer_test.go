// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package transfer

import (
	"bytes"
	"context"
	"encoding/gob"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
)

func init() {
	gob.Register(map[string]int{})
}

func TestCodec(t *testing.T) {
	fz := fuzz.New()
	fz.NilChance(0)
	fz.NumElements(1, 1000)
	var (
		ints   []int
		strs   []string
		counts map[string]int
	)
	fz.Fuzz(&ints)
	fz.Fuzz(&strs)
	fz.Fuzz(&counts)
	for _, v := range []interface{}{ints, strs, counts, 123, "hello", nil} {
		var b bytes.Buffer
		if err := Encode(&b, v); err != nil {
			t.Fatal(err)
		}
		w, err := Decode(&b)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(v, w) {
			t.Errorf("%T: values do not match", v)
		}
	}
}

func TestParseMode(t *testing.T) {
	for _, c := range []struct {
		s    string
		mode Mode
	}{
		{"", Auto},
		{"auto", Auto},
		{"force-shared", Shared},
		{"shared", Shared},
		{"force-direct", Direct},
		{"direct", Direct},
	} {
		mode, err := ParseMode(c.s)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := mode, c.mode; got != want {
			t.Errorf("%s: got %v, want %v", c.s, got, want)
		}
	}
	if _, err := ParseMode("pipe"); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	missing := filepath.Join(dir, "missing")

	if !Available(dir) {
		t.Fatalf("%s not available", dir)
	}
	if Available(missing) {
		t.Fatalf("%s available", missing)
	}
	for _, c := range []struct {
		mode Mode
		root string
		want Mode
	}{
		{Auto, dir, Shared},
		{Auto, missing, Direct},
		{Shared, dir, Shared},
		{Direct, dir, Direct},
		{Direct, missing, Direct},
	} {
		mode, err := Resolve(c.mode, c.root)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := mode, c.want; got != want {
			t.Errorf("%v %s: got %v, want %v", c.mode, c.root, got, want)
		}
	}
	if _, err := Resolve(Shared, missing); !errors.Is(errors.Unavailable, err) {
		t.Errorf("expected unavailable error, got %v", err)
	}
	// The availability probe leaves nothing behind.
	if names := list(t, dir); len(names) != 0 {
		t.Errorf("unexpected files %v", names)
	}
}

func list(t *testing.T, dir string) []string {
	t.Helper()
	infos, err := ioutil.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}

func TestSharedTransfer(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	x := New(Shared, dir)
	parts := [][]int{{1, 2, 3}, {4, 5}, {6}}
	payloads := make([]Payload, len(parts))
	for i, part := range parts {
		var err error
		payloads[i], err = x.Put(ctx, i, part)
		if err != nil {
			t.Fatal(err)
		}
		if !payloads[i].Shared() {
			t.Fatal("expected shared payload")
		}
		if payloads[i].Data != nil {
			t.Error("shared payload carries data")
		}
	}
	names := list(t, dir)
	if got, want := len(names), len(parts); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, InputPrefix) || !strings.HasSuffix(name, Suffix) {
			t.Errorf("unexpected file name %s", name)
		}
	}

	// Worker side: read the input, release it, store a result.
	for i, p := range payloads {
		v, err := Load(ctx, p)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := v, interface{}(parts[i]); !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
		if err := x.Release(ctx, i); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(p.Input); !os.IsNotExist(err) {
			t.Errorf("input %s not released: %v", p.Input, err)
		}
		if err := Store(ctx, p, len(parts[i])); err != nil {
			t.Fatal(err)
		}
	}
	v, err := x.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v, interface{}(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(list(t, dir)), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := x.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if names := list(t, dir); len(names) != 0 {
		t.Errorf("files remain after close: %v", names)
	}
}

func TestSharedTransferCloseUnused(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	x := New(Shared, dir)
	// Outputs that were never written are ignored by Close.
	for i := 0; i < 4; i++ {
		if _, err := x.Put(ctx, i, []string{"x"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := x.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if names := list(t, dir); len(names) != 0 {
		t.Errorf("files remain after close: %v", names)
	}
}

func TestDirectTransfer(t *testing.T) {
	ctx := context.Background()
	x := New(Direct, "/nonexistent")
	p, err := x.Put(ctx, 0, []int{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if p.Shared() {
		t.Fatal("unexpected shared payload")
	}
	v, err := Load(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v, interface{}([]int{1, 2}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := x.Release(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := Store(ctx, p, 1); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if err := x.Close(ctx); err != nil {
		t.Fatal(err)
	}
}
