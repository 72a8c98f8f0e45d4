// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec implements the bigapply runtime. A Session applies
// registered funcs to datasets: it partitions the dataset with an
// operation's adapter, starts one worker per partition, aggregates
// the workers' progress and reduces their results.
package exec

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigapply"
	"github.com/grailbio/bigapply/progress"
	"github.com/grailbio/bigapply/stats"
	"github.com/grailbio/bigapply/transfer"
	"github.com/grailbio/bigmachine"
)

// queueSize is the capacity of the coordinator's message queue.
const queueSize = 1024

// Session represents a bigapply session. A session shares a binary
// and executor, and is valid for the run of the binary. A session can
// run any number of invocations, one worker pool each.
//
// A session is started by Start. The bigmachine executor launches
// additional copies of the binary: these are called workers, and in
// these Start does not return.
//
// All funcs and operations must be registered before Start is
// called, and must be registered in a deterministic order. This is
// provided by default when they are created as part of package
// initialization:
//
//	var square = bigapply.Func(func(x int) int { return x * x }, "x")
//
//	func main() {
//		sess, err := exec.Start(exec.Workers(4))
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer sess.Shutdown()
//		squares, err := sess.Run(ctx, adapters.Map, ints, square.Invocation())
//		...
//	}
type Session struct {
	context.Context
	index        int32
	shutdown     func()
	workers      int
	showProgress bool
	verbosity    int
	transfer     transfer.Mode
	root         string
	executor     executor
	status       *status.Status
	eventer      eventlog.Eventer
	stats        *stats.Map
}

func newSession() *Session {
	return &Session{
		Context: backgroundcontext.Get(),
		index:   atomic.AddInt32(&nextSessionIndex, 1) - 1,
		eventer: eventlog.Nop{},
		root:    transfer.MemoryFSRoot,
		stats:   stats.NewMap(),
	}
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session with the local in-binary executor:
// workers run in goroutines of the current process.
var Local Option = func(s *Session) {
	s.executor = newLocalExecutor()
}

// Bigmachine configures a session using the bigmachine executor
// configured with the provided system. If any params are provided,
// they are applied to each machine allocated by the session.
func Bigmachine(system bigmachine.System, params ...bigmachine.Param) Option {
	return func(s *Session) {
		s.executor = newBigmachineExecutor(system, params...)
	}
}

// Workers configures the number of workers, which is also the
// maximum number of partitions of a dataset.
func Workers(n int) Option {
	if n <= 0 {
		panic("exec.Workers: n <= 0")
	}
	return func(s *Session) {
		s.workers = n
	}
}

// ShowProgress is a session option that turns on progress reporting.
// Workers then report progress roughly every hundredth of their
// partition, and the session displays it in its status.
var ShowProgress Option = func(s *Session) {
	s.showProgress = true
}

// Verbosity configures the session's verbosity. At level 1 and above,
// setup diagnostics are logged when the session starts.
func Verbosity(v int) Option {
	return func(s *Session) {
		s.verbosity = v
	}
}

// Transfer configures the mode by which partitions and results are
// transferred between the session and its workers. Shared mode fails
// session start if the memory file system is not available.
func Transfer(mode transfer.Mode) Option {
	return func(s *Session) {
		s.transfer = mode
	}
}

// MemoryFS configures the root of the memory-backed file system used
// by the shared transfer mode. The default is transfer.MemoryFSRoot.
func MemoryFS(root string) Option {
	return func(s *Session) {
		s.root = root
	}
}

// Status configures the session with a status object to which
// run statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status
	}
}

// Eventer configures the session with an Eventer that will be used to
// log session events (for analytics).
func Eventer(e eventlog.Eventer) Option {
	return func(s *Session) {
		s.eventer = e
	}
}

// nextSessionIndex is the index of the next session that will be
// started by Start.
var nextSessionIndex int32

// Start creates and starts a new bigapply session, configuring it
// according to the provided options. The worker count defaults to
// the number of logical CPUs; if no executor is configured, the
// session uses the bigmachine executor with bigmachine.Local.
//
// Start fails with an error of kind errors.Unavailable if shared
// transfer mode is requested but the memory file system is not
// available. No workers are started in this case.
func Start(options ...Option) (*Session, error) {
	s := newSession()
	for _, opt := range options {
		opt(s)
	}
	if s.executor == nil {
		s.executor = newBigmachineExecutor(bigmachine.Local)
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) start() error {
	if s.workers == 0 {
		s.workers = runtime.NumCPU()
	}
	mode, err := transfer.Resolve(s.transfer, s.root)
	if err != nil {
		return err
	}
	s.transfer = mode
	if s.verbosity > 0 {
		log.Printf("bigapply: %d workers (%s executor), transfer mode %s (memory file system %s), progress %v",
			s.workers, s.executor.Name(), s.transfer, s.root, s.showProgress)
	}
	s.shutdown = s.executor.Start(s)
	s.eventer.Event("bigapply:sessionStart",
		"command", command(),
		"executorType", s.executor.Name(),
		"workers", s.workers,
		"transfer", s.transfer.String(),
		"progress", s.showProgress)
	return nil
}

// statusMu is used to prevent interleaving of invocation status
// groups.
var statusMu sync.Mutex

// Run applies the invocation inv to data using the operation op, and
// returns the reduced result. Run partitions data into at most
// Workers() partitions with the operation's adapter, and starts one
// worker per partition. Extra args are passed through to the
// adapter's Chunks and Work methods; they must be gob-encodable.
//
// Run returns once every worker has finished. If any worker failed,
// Run returns the failure of the first failed partition, in partition
// order. Workers and transfer files are released before Run returns,
// on every path. There is no timeout: Run waits for hung workers
// indefinitely.
func (s *Session) Run(ctx context.Context, op *bigapply.Op, data interface{}, inv bigapply.Invocation, args ...interface{}) (result interface{}, err error) {
	adapter := op.Adapter()
	s.stats.Int("invocations").Add(1)
	defer func() {
		if err != nil {
			s.stats.Int("failures").Add(1)
		}
	}()
	// Instrument locally so that binding errors surface before any
	// workers are started.
	fn, err := inv.Instrument()
	if err != nil {
		return nil, err
	}
	chunks, err := adapter.Chunks(s.workers, data, args...)
	if err != nil {
		return nil, err
	}
	n := len(chunks)
	if n > s.workers {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("operation %s: %d partitions exceed %d workers", op.Name(), n, s.workers))
	}
	var workerMeta, reduceMeta interface{}
	if m, ok := adapter.(bigapply.WorkerMetaer); ok {
		workerMeta = m.WorkerMeta(data)
	}
	if m, ok := adapter.(bigapply.ReduceMetaer); ok {
		reduceMeta = m.ReduceMeta(data)
	}
	if n == 0 {
		return adapter.Reduce(nil, reduceMeta)
	}
	s.eventer.Event("bigapply:run",
		"op", op.Name(),
		"func", fn.Name(),
		"invocation", inv.Index,
		"partitions", n)

	x := transfer.New(s.transfer, s.root)
	defer func() {
		if cerr := x.Close(ctx); cerr != nil {
			log.Error.Printf("invocation %d: transfer cleanup: %v", inv.Index, cerr)
			if err == nil {
				err = cerr
			}
		}
	}()
	var (
		lens  = make([]int64, n)
		items = make([]workItem, n)
	)
	for i, chunk := range chunks {
		lens[i] = bigapply.Len(chunk)
		payload, err := x.Put(ctx, i, chunk)
		if err != nil {
			return nil, err
		}
		items[i] = workItem{
			Index:   i,
			Payload: payload,
			Meta:    workerMeta,
			Period:  s.period(adapter, lens[i]),
			Args:    args,
		}
	}
	log.Debug.Printf("invocation %d: %s over %d partitions %v", inv.Index, fn, n, lens)
	s.stats.Int("partitions").Add(int64(n))

	p, err := s.executor.Pool(ctx, n, &worker{Invocation: inv, Op: op.Index()})
	if err != nil {
		return nil, err
	}
	defer p.Close()

	display := progress.Nop
	if s.status != nil && s.showProgress {
		statusMu.Lock()
		group := s.status.Groupf("%s %s [%d]", op.Name(), fn.Name(), inv.Index)
		statusMu.Unlock()
		d := progress.NewStatusDisplay(group, lens)
		defer d.Close()
		display = d
	}
	q := make(chan progress.Message, queueSize)
	for _, item := range items {
		p.Submit(ctx, item, q)
	}
	release := func(index int) {
		s.stats.Int("released").Add(1)
		if err := x.Release(ctx, index); err != nil {
			log.Error.Printf("invocation %d: release input %d: %v", inv.Index, index, err)
		}
	}
	states := progress.Aggregate(q, lens, release, display)

	results := make([]interface{}, n)
	for i := range results {
		v, err := p.Result(ctx, i)
		if err == nil && states[i] == progress.Failed {
			err = errors.E(fmt.Sprintf("partition %d failed", i))
		}
		if err != nil {
			return nil, err
		}
		if x.Mode() == transfer.Shared {
			if v, err = x.Get(ctx, i); err != nil {
				return nil, err
			}
		}
		results[i] = v
		s.stats.Int("elements").Add(lens[i])
	}
	return adapter.Reduce(results, reduceMeta)
}

// Must is a version of Run that panics if the invocation fails.
func (s *Session) Must(ctx context.Context, op *bigapply.Op, data interface{}, inv bigapply.Invocation, args ...interface{}) interface{} {
	result, err := s.Run(ctx, op, data, inv, args...)
	if err != nil {
		log.Panicf("exec.Run: %v", err)
	}
	return result
}

// period returns the progress reporting period for a partition of
// the provided length: about a hundredth of it. It is 0 when progress
// is not shown, or when the adapter's workers do not report progress.
func (s *Session) period(adapter bigapply.Adapter, n int64) int64 {
	if !s.showProgress {
		return 0
	}
	if p, ok := adapter.(bigapply.Progresser); ok && !p.Progress() {
		return 0
	}
	if p := n / 100; p > 1 {
		return p
	}
	return 1
}

// Workers returns the session's worker count.
func (s *Session) Workers() int {
	return s.workers
}

// Mode returns the session's resolved transfer mode: either
// transfer.Shared or transfer.Direct.
func (s *Session) Mode() transfer.Mode {
	return s.transfer
}

// Stats returns a snapshot of the session's counters: the number of
// invocations run and failed, and the number of partitions and
// elements processed.
func (s *Session) Stats() stats.Values {
	return s.stats.Snapshot()
}

// Shutdown tears down resources associated with this session.
// It should be called when the session is discarded.
func (s *Session) Shutdown() {
	if s.shutdown != nil {
		s.shutdown()
	}
}

// Status returns the session's status aggregator.
func (s *Session) Status() *status.Status {
	return s.status
}

// HandleDebug registers the executor's debug handlers on the
// provided mux.
func (s *Session) HandleDebug(handler *http.ServeMux) {
	s.executor.HandleDebug(handler)
}

// command returns the command line of the current process, quoted so
// that it may be pasted into sh.
func command() string {
	args := make([]string, len(os.Args))
	for i, arg := range os.Args {
		args[i] = "'" + strings.Replace(arg, "'", `'\''`, -1) + "'"
	}
	return strings.Join(args, " ")
}
