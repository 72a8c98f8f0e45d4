// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Squares is a bigapply demo program that squares a range of
// integers over a pool of workers, optionally offsetting each square
// by a bound constant, and checks the result.
//
//	squares -n 10000 -workers 4 -progress -console-status
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigapply"
	"github.com/grailbio/bigapply/adapters"
	"github.com/grailbio/bigapply/applycmd"
	"github.com/grailbio/bigapply/exec"
)

var square = bigapply.Func(func(offset, x int) int {
	return x*x + offset
}, "offset", "x")

func main() {
	var (
		n      = flag.Int("n", 10000, "number of integers to square")
		offset = flag.Int("offset", 0, "constant added to every square")
	)
	applycmd.Main(func(sess *exec.Session, args []string) error {
		sum, err := squareAll(context.Background(), sess, *n, *offset)
		if err != nil {
			return err
		}
		log.Printf("squared %d integers over %d workers: sum %d", *n, sess.Workers(), sum)
		return nil
	})
}

// squareAll squares the integers [0, n), offset by offset, checks
// the result and returns its sum.
func squareAll(ctx context.Context, sess *exec.Session, n, offset int) (int64, error) {
	inv, err := square.Bind(map[string]interface{}{"offset": offset})
	if err != nil {
		return 0, err
	}
	ints := make([]int, n)
	for i := range ints {
		ints[i] = i
	}
	result, err := sess.Run(ctx, adapters.Map, ints, inv)
	if err != nil {
		return 0, err
	}
	// Reduce returns nil when no partition produced a value.
	squares, _ := result.([]int)
	if len(squares) != n {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("got %d squares, want %d", len(squares), n))
	}
	var sum int64
	for i, sq := range squares {
		if sq != i*i+offset {
			return 0, errors.E(errors.Integrity, fmt.Sprintf("square of %d: got %d", i, sq))
		}
		sum += int64(sq)
	}
	return sum, nil
}
