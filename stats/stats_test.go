// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import (
	"sync"
	"testing"
)

func TestStats(t *testing.T) {
	coll := NewMap()
	var (
		x = coll.Int("x")
		_ = coll.Int("y")
	)
	if got, want := x.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	x.Add(123)
	x.Add(123)
	if got, want := x.Get(), int64(123*2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	all := make(Values)
	coll.AddAll(all)
	coll.AddAll(all)
	if got, want := len(all), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all["x"], int64(123*4); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all["y"], int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConcurrent(t *testing.T) {
	const N = 100
	coll := NewMap()
	var wg sync.WaitGroup
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coll.Int("elements").Add(10)
			coll.Int("partitions").Add(1)
		}()
	}
	wg.Wait()
	snap := coll.Snapshot()
	if got, want := snap.String(), "elements:1000 partitions:100"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSub(t *testing.T) {
	before := Values{"elements": 10, "invocations": 1}
	after := before.Copy()
	after["elements"] += 5
	after["invocations"]++
	after["failures"] = 1
	d := after.Sub(before)
	if got, want := d.String(), "elements:5 failures:1 invocations:1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := before["elements"], int64(10); got != want {
		t.Errorf("copy aliased: got %v, want %v", got, want)
	}
	var nilInt *Int
	nilInt.Add(1)
	if got, want := nilInt.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
