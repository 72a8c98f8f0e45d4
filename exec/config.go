// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"runtime"

	"github.com/grailbio/base/config"
	"github.com/grailbio/bigapply/transfer"
	"github.com/grailbio/bigmachine"
)

func init() {
	config.Register("bigapply", func(inst *config.Constructor) {
		sess := newSession()
		inst.IntVar(&sess.workers, "workers", runtime.NumCPU(), "the number of workers, and maximum number of partitions")
		inst.BoolVar(&sess.showProgress, "progress", false, "report and display worker progress")
		inst.IntVar(&sess.verbosity, "verbosity", 0, "log setup diagnostics at verbosity 1 and above")
		var mode string
		inst.StringVar(&mode, "transfer", "auto", "transfer mode: auto, force-shared or force-direct")
		inst.StringVar(&sess.root, "memory-fs", transfer.MemoryFSRoot, "root of the memory-backed file system used by shared transfers")
		var system bigmachine.System
		inst.InstanceVar(&system, "system", "", "the bigmachine system used to run workers; workers run in-process if empty")
		inst.Doc = "bigapply configures the bigapply runtime"
		inst.New = func() (interface{}, error) {
			var err error
			if sess.transfer, err = transfer.ParseMode(mode); err != nil {
				return nil, err
			}
			if system != nil {
				sess.executor = newBigmachineExecutor(system)
			} else {
				sess.executor = newLocalExecutor()
			}
			if err := sess.start(); err != nil {
				return nil, err
			}
			return sess, nil
		}
	})
}
