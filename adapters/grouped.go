// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package adapters

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigapply"
	"github.com/grailbio/bigapply/instrument"
	"github.com/spaolacci/murmur3"
)

// A Record is a keyed value.
type Record struct {
	Key   string
	Value interface{}
}

// Grouped applies a function to each group of records that share a
// key. The dataset is a []Record; the function takes the key and a
// slice of the group's values (in dataset order), followed by the
// extra arguments passed to Run. Records are hash partitioned by key,
// so that each group is processed by a single worker. The result is a
// map[string]interface{} from each key to the function's return
// value. Workers report completion but not progress, since the
// function is called once per group rather than once per record.
var Grouped = bigapply.Operation("grouped", grouped{}, []Record{}, Record{}, map[string]interface{}{})

// Partition returns the partition of n to which key is assigned.
func Partition(key string, n int) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(n))
}

type grouped struct{}

func (grouped) Chunks(n int, data interface{}, args ...interface{}) ([]interface{}, error) {
	if n <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("invalid partition count %d", n))
	}
	records, ok := data.([]Record)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset is a %T, not a []adapters.Record", data))
	}
	parts := make([][]Record, n)
	for _, r := range records {
		i := Partition(r.Key, n)
		parts[i] = append(parts[i], r)
	}
	chunks := make([]interface{}, n)
	for i := range parts {
		if parts[i] == nil {
			parts[i] = []Record{}
		}
		chunks[i] = parts[i]
	}
	return chunks, nil
}

func (grouped) Work(ctx context.Context, partition interface{}, index int, meta interface{}, fn *instrument.Func, args ...interface{}) (interface{}, error) {
	records, ok := partition.([]Record)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("partition %d is a %T, not a []adapters.Record", index, partition))
	}
	if fn.NumIn() < 2 || fn.In(0).Kind() != reflect.String || fn.In(1).Kind() != reflect.Slice {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: grouped functions take a key and a slice of values", fn))
	}
	var (
		typ    = fn.In(1)
		keys   []string
		groups = make(map[string]reflect.Value)
	)
	for _, r := range records {
		g, ok := groups[r.Key]
		if !ok {
			keys = append(keys, r.Key)
			g = reflect.MakeSlice(typ, 0, 1)
		}
		groups[r.Key] = reflect.Append(g, valueOf(r.Value, typ.Elem()))
	}
	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		argv := append([]interface{}{reflect.ValueOf(key).Convert(fn.In(0)).Interface(), groups[key].Interface()}, args...)
		v, err := fn.Call(ctx, argv...)
		if err != nil {
			return nil, errors.E(fmt.Sprintf("group %s", key), err)
		}
		out = append(out, Record{key, v})
	}
	return out, nil
}

// Progress implements bigapply.Progresser.
func (grouped) Progress() bool { return false }

// ReduceMeta returns the sorted set of keys in the dataset.
func (grouped) ReduceMeta(data interface{}) interface{} {
	records, _ := data.([]Record)
	seen := make(map[string]bool)
	var keys []string
	for _, r := range records {
		if !seen[r.Key] {
			seen[r.Key] = true
			keys = append(keys, r.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Reduce merges the per-partition results. Every key of the dataset
// must be produced by exactly one partition.
func (grouped) Reduce(results []interface{}, meta interface{}) (interface{}, error) {
	keys, _ := meta.([]string)
	out := make(map[string]interface{}, len(keys))
	for i, r := range results {
		records, ok := r.([]Record)
		if !ok && r != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("result %d is a %T, not a []adapters.Record", i, r))
		}
		for _, rec := range records {
			if _, ok := out[rec.Key]; ok {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("key %s produced by more than one partition", rec.Key))
			}
			out[rec.Key] = rec.Value
		}
	}
	for _, key := range keys {
		if _, ok := out[key]; !ok {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("no result for key %s", key))
		}
	}
	return out, nil
}
