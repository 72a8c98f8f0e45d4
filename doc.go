// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigapply applies ordinary Go functions to large in-memory
	datasets in parallel, across a fixed pool of worker processes.
	Users register a function once with Func, naming its parameters,
	and apply it to a dataset through an Operation: a named Adapter
	that knows how to partition the dataset, how to process a single
	partition with the function, and how to combine the per-partition
	results. Package github.com/grailbio/bigapply/adapters provides
	adapters for slices and keyed records.

	Execution is managed by a session (package
	github.com/grailbio/bigapply/exec). For each application, the
	session starts one worker per partition, transfers each partition to
	its worker (directly, or through files on a memory-backed file
	system), aggregates the workers' progress reports, and reduces their
	results in partition order.

	Workers use bigmachine and run the same binary as the driver, so
	funcs and operations cannot be serialized directly. Instead they
	must be registered in a deterministic order, for example as global
	variables:

		var square = bigapply.Func(func(x int) int { return x * x }, "x")

		func main() {
			sess, err := exec.Start(exec.Workers(4))
			if err != nil {
				log.Fatal(err)
			}
			defer sess.Shutdown()
			squares, err := sess.Run(ctx, adapters.Map, ints, square.Invocation())
			...
		}

	Parameters of a func may be bound to fixed values with
	FuncValue.Bind; the bound parameters are removed from the function
	that workers apply.
*/
package bigapply
