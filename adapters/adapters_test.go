// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package adapters

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"strconv"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigapply"
	"github.com/grailbio/bigapply/instrument"
)

func TestSplit(t *testing.T) {
	fz := fuzz.New()
	fz.NilChance(0)
	fz.NumElements(0, 1000)
	for iter := 0; iter < 50; iter++ {
		var data []int
		fz.Fuzz(&data)
		n := rand.Intn(16) + 1
		parts, err := Split(n, data)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := len(parts), n; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		var (
			total  int64
			joined []int
			lens   []int64
		)
		for _, p := range parts {
			l := bigapply.Len(p)
			lens = append(lens, l)
			total += l
			joined = append(joined, p.([]int)...)
		}
		if got, want := total, int64(len(data)); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if len(data) > 0 && !reflect.DeepEqual(joined, data) {
			t.Error("partitions do not cover the dataset in order")
		}
		for i := 1; i < len(lens); i++ {
			if lens[i] > lens[i-1] || lens[0]-lens[i] > 1 {
				t.Errorf("unbalanced partitions %v", lens)
				break
			}
		}
	}
}

func TestSplitInvalid(t *testing.T) {
	if _, err := Split(0, []int{1}); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if _, err := Split(2, map[int]int{}); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestMap(t *testing.T) {
	ctx := context.Background()
	fn, err := instrument.Of(func(x, y int) int { return x*x + y }, "x", "y")
	if err != nil {
		t.Fatal(err)
	}
	data := []int{1, 2, 3, 4, 5, 6, 7}
	a := Map.Adapter()
	parts, err := a.Chunks(3, data)
	if err != nil {
		t.Fatal(err)
	}
	results := make([]interface{}, len(parts))
	for i, p := range parts {
		results[i], err = a.Work(ctx, p, i, nil, fn, 1)
		if err != nil {
			t.Fatal(err)
		}
	}
	v, err := a.Reduce(results, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v, []int{2, 5, 10, 17, 26, 37, 50}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMapError(t *testing.T) {
	ctx := context.Background()
	fn, err := instrument.Of(func(x int) (string, error) {
		if x == 7 {
			return "", errors.E(errors.Invalid, "seven")
		}
		return strconv.Itoa(x), nil
	}, "x")
	if err != nil {
		t.Fatal(err)
	}
	v, err := Map.Adapter().Work(ctx, []int{5, 6}, 0, nil, fn)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v, []string{"5", "6"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := Map.Adapter().Work(ctx, []int{6, 7, 8}, 1, nil, fn); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	fn, err := instrument.Of(func(xs []int) int {
		var sum int
		for _, x := range xs {
			sum += x
		}
		return sum
	}, "xs")
	if err != nil {
		t.Fatal(err)
	}
	a := Apply.Adapter()
	parts, err := a.Chunks(2, []int{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatal(err)
	}
	results := make([]interface{}, len(parts))
	for i, p := range parts {
		results[i], err = a.Work(ctx, p, i, nil, fn)
		if err != nil {
			t.Fatal(err)
		}
	}
	v, err := a.Reduce(results, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v, []interface{}{6, 9}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGrouped(t *testing.T) {
	const (
		nkeys = 50
		n     = 7
	)
	ctx := context.Background()
	var data []Record
	for i := 0; i < 1000; i++ {
		data = append(data, Record{fmt.Sprint("key", i%nkeys), i})
	}
	a := Grouped.Adapter()
	parts, err := a.Chunks(n, data)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(parts), n; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	var total int64
	owner := make(map[string]int)
	for i, p := range parts {
		total += bigapply.Len(p)
		for _, r := range p.([]Record) {
			if j, ok := owner[r.Key]; ok && j != i {
				t.Errorf("key %s in partitions %d and %d", r.Key, i, j)
			}
			owner[r.Key] = i
		}
	}
	if got, want := total, int64(len(data)); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if p, ok := a.(bigapply.Progresser); !ok || p.Progress() {
		t.Error("grouped workers should not report progress")
	}
	if got, want := len(owner), nkeys; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	fn, err := instrument.Of(func(key string, values []int) int {
		var sum int
		for _, v := range values {
			sum += v
		}
		return sum
	}, "key", "values")
	if err != nil {
		t.Fatal(err)
	}
	results := make([]interface{}, len(parts))
	for i, p := range parts {
		results[i], err = a.Work(ctx, p, i, nil, fn)
		if err != nil {
			t.Fatal(err)
		}
	}
	meta := a.(bigapply.ReduceMetaer).ReduceMeta(data)
	if got, want := len(meta.([]string)), nkeys; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	v, err := a.Reduce(results, meta)
	if err != nil {
		t.Fatal(err)
	}
	sums := v.(map[string]interface{})
	for k := 0; k < nkeys; k++ {
		// Key k holds k, k+nkeys, ..., k+19*nkeys.
		want := 20*k + nkeys*(19*20/2)
		if got := sums[fmt.Sprint("key", k)]; got != want {
			t.Errorf("key%d: got %v, want %v", k, got, want)
		}
	}

	// A missing partition is detected by Reduce.
	for i := range results {
		if len(results[i].([]Record)) > 0 {
			results[i] = nil
			break
		}
	}
	if _, err := a.Reduce(results, meta); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected not exist error, got %v", err)
	}
}
