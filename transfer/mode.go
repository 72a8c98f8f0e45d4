// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package transfer moves partitions from a coordinator to workers and
// results back. In Direct mode, values travel through the worker
// pool's own argument channel. In Shared mode, they are written to
// files on a memory-backed file system and only file paths are
// passed.
package transfer

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

const (
	// Prefix is the prefix of all files created by this package.
	Prefix = "bigapply_"
	// InputPrefix is the prefix of files containing input partitions.
	InputPrefix = Prefix + "input_"
	// OutputPrefix is the prefix of files containing results.
	OutputPrefix = Prefix + "output_"
	// Suffix identifies the serialization format of transfer files.
	Suffix = ".gob"
)

// MemoryFSRoot is the default mount point of the memory-backed file
// system.
var MemoryFSRoot = "/dev/shm"

// Mode is a transfer mode.
type Mode int

const (
	// Auto uses Shared mode when the memory file system is available,
	// and Direct mode otherwise.
	Auto Mode = iota
	// Shared transfers data through files on the memory file system.
	Shared
	// Direct transfers data through the worker pool's argument
	// channel.
	Direct
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Shared:
		return "force-shared"
	case Direct:
		return "force-direct"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a transfer mode name: one of "auto",
// "force-shared" (or "shared") and "force-direct" (or "direct").
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "auto":
		return Auto, nil
	case "force-shared", "shared":
		return Shared, nil
	case "force-direct", "direct":
		return Direct, nil
	}
	return Auto, errors.E(errors.Invalid, fmt.Sprintf("invalid transfer mode %q", s))
}

// Set implements flag.Value.
func (m *Mode) Set(s string) error {
	mode, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Available tells whether the memory file system rooted at root can
// be used: it must be an existing directory in which files can be
// created and removed.
func Available(root string) bool {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false
	}
	ctx := context.Background()
	path := file.Join(root, Prefix+"probe_"+uuid.New().String())
	f, err := file.Create(ctx, path)
	if err != nil {
		return false
	}
	if err := f.Close(ctx); err != nil {
		return false
	}
	return file.Remove(ctx, path) == nil
}

// Resolve returns the transfer mode to use for the requested mode:
// Auto resolves to Shared if the memory file system at root is
// available and to Direct otherwise. Resolve returns an error of kind
// errors.Unavailable if Shared mode is requested but the memory file
// system is not available.
func Resolve(mode Mode, root string) (Mode, error) {
	switch mode {
	case Direct:
		return Direct, nil
	case Shared:
		if !Available(root) {
			return Direct, errors.E(errors.Unavailable, fmt.Sprintf("memory file system %s is not available", root))
		}
		return Shared, nil
	case Auto:
		if Available(root) {
			return Shared, nil
		}
		return Direct, nil
	}
	return Direct, errors.E(errors.Invalid, fmt.Sprintf("invalid transfer mode %v", mode))
}
