// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"testing"

	"github.com/grailbio/bigapply/exec"
	"github.com/grailbio/bigapply/transfer"
	"github.com/grailbio/testutil"
)

func TestSquareAll(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	for _, mode := range []transfer.Mode{transfer.Direct, transfer.Shared} {
		sess, err := exec.Start(exec.Local, exec.Workers(3), exec.Transfer(mode), exec.MemoryFS(dir))
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range []struct {
			n, offset int
			sum       int64
		}{
			{0, 0, 0},
			{0, 5, 0},
			{4, 0, 14},
			{4, 1, 18},
			{100, 0, 328350},
		} {
			sum, err := squareAll(ctx, sess, c.n, c.offset)
			if err != nil {
				t.Errorf("%v n=%d: %v", mode, c.n, err)
				continue
			}
			if got, want := sum, c.sum; got != want {
				t.Errorf("%v n=%d offset=%d: got %v, want %v", mode, c.n, c.offset, got, want)
			}
		}
		sess.Shutdown()
	}
}
