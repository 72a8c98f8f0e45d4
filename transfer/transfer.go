// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package transfer

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// A Payload is the transferable reference to a partition and its
// result. In Direct mode it carries the partition itself; in Shared
// mode it carries the paths of the input and output files.
type Payload struct {
	Data   interface{}
	Input  string
	Output string
}

// Shared tells whether the payload refers to files.
func (p Payload) Shared() bool { return p.Input != "" }

// Transfer manages the payloads of a single invocation. Transfer
// owns every file it creates: they are removed by Release (inputs) or
// Close (all files).
type Transfer struct {
	mode Mode
	root string

	mu       sync.Mutex
	payloads map[int]Payload
	// files holds the paths of the files that have been created and
	// not yet removed.
	files map[string]bool
}

// New returns a new Transfer in the provided mode, which must be
// either Direct or Shared. Files are created in root.
func New(mode Mode, root string) *Transfer {
	if mode != Direct && mode != Shared {
		log.Panicf("transfer.New: unresolved mode %v", mode)
	}
	return &Transfer{
		mode:     mode,
		root:     root,
		payloads: make(map[int]Payload),
		files:    make(map[string]bool),
	}
}

// Mode returns the transfer's mode.
func (t *Transfer) Mode() Mode { return t.mode }

// Put prepares the partition with the provided index for transfer.
// In Shared mode, the partition is written to a new input file, and
// an output path is reserved.
func (t *Transfer) Put(ctx context.Context, index int, partition interface{}) (Payload, error) {
	if t.mode == Direct {
		p := Payload{Data: partition}
		t.mu.Lock()
		t.payloads[index] = p
		t.mu.Unlock()
		return p, nil
	}
	id := uuid.New().String()
	p := Payload{
		Input:  file.Join(t.root, fmt.Sprintf("%s%d_%s%s", InputPrefix, index, id, Suffix)),
		Output: file.Join(t.root, fmt.Sprintf("%s%d_%s%s", OutputPrefix, index, id, Suffix)),
	}
	t.mu.Lock()
	t.payloads[index] = p
	t.files[p.Input] = true
	t.files[p.Output] = true
	t.mu.Unlock()
	if err := writeFile(ctx, p.Input, partition); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Release releases the input of the partition with the provided
// index. It is called once a worker has read its input.
func (t *Transfer) Release(ctx context.Context, index int) error {
	if t.mode == Direct {
		return nil
	}
	t.mu.Lock()
	p, ok := t.payloads[index]
	t.mu.Unlock()
	if !ok {
		return errors.E(errors.NotExist, fmt.Sprintf("release: no partition %d", index))
	}
	return t.remove(ctx, p.Input)
}

// Get returns the result stored for the partition with the provided
// index. Get is valid only in Shared mode, after the worker has
// stored its result.
func (t *Transfer) Get(ctx context.Context, index int) (interface{}, error) {
	t.mu.Lock()
	p, ok := t.payloads[index]
	t.mu.Unlock()
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("get: no partition %d", index))
	}
	if !p.Shared() {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("get: partition %d is not shared", index))
	}
	v, err := readFile(ctx, p.Output)
	if err != nil {
		return nil, err
	}
	return v, t.remove(ctx, p.Output)
}

// Close removes every file created by the transfer that has not yet
// been removed. Files that have already disappeared are ignored.
func (t *Transfer) Close(ctx context.Context) error {
	t.mu.Lock()
	paths := make([]string, 0, len(t.files))
	for path := range t.files {
		paths = append(paths, path)
	}
	t.mu.Unlock()
	var first error
	for _, path := range paths {
		if err := t.remove(ctx, path); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *Transfer) remove(ctx context.Context, path string) error {
	t.mu.Lock()
	owned := t.files[path]
	delete(t.files, path)
	t.mu.Unlock()
	if !owned {
		return nil
	}
	err := file.Remove(ctx, path)
	if err != nil && (os.IsNotExist(err) || errors.Is(errors.NotExist, err)) {
		err = nil
	}
	return err
}

// Load returns the partition referred to by p. It is called by
// workers.
func Load(ctx context.Context, p Payload) (interface{}, error) {
	if !p.Shared() {
		return p.Data, nil
	}
	return readFile(ctx, p.Input)
}

// Store stores the result v for the partition referred to by p. It is
// called by workers in Shared mode.
func Store(ctx context.Context, p Payload, v interface{}) error {
	if !p.Shared() {
		return errors.E(errors.Invalid, "store: payload is not shared")
	}
	return writeFile(ctx, p.Output, v)
}

func writeFile(ctx context.Context, path string, v interface{}) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := Encode(f.Writer(ctx), v); err != nil {
		return errors.E(fmt.Sprintf("encode %s", path), err)
	}
	return nil
}

func readFile(ctx context.Context, path string) (interface{}, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)
	v, err := Decode(f.Reader(ctx))
	if err != nil {
		return nil, errors.E(fmt.Sprintf("decode %s", path), err)
	}
	return v, nil
}
