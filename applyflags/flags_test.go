// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package applyflags_test

import (
	"flag"
	"io/ioutil"
	"testing"

	"github.com/grailbio/bigapply/applyflags"
	"github.com/grailbio/bigapply/transfer"
)

func TestProvider(t *testing.T) {
	local := &applyflags.Local{}
	if got, want := local.Name(), "local"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := local.Set("x=y"); err == nil {
		t.Errorf("expected an error")
	}
	if err := local.Set("maxprocs=two"); err == nil {
		t.Errorf("expected an error")
	}
	if err := local.Set("maxprocs=2"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got, want := local.Maxprocs, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	internal := &applyflags.Internal{}
	if got, want := internal.Name(), "internal"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := internal.Set("maxprocs=2"); err == nil {
		t.Errorf("expected an error")
	}
}

func TestFlags(t *testing.T) {
	tf := &applyflags.Flags{}
	if err := tf.System.Set("local"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := tf.System.Set("local:an=option"); err == nil {
		t.Errorf("expected an error")
	}
	tf = &applyflags.Flags{}
	if err := tf.System.Set("internal"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := tf.System.Set("internal:an=option"); err == nil {
		t.Errorf("expected an error")
	}
	tf = &applyflags.Flags{}
	if err := tf.System.Set("cluster"); err == nil {
		t.Errorf("expected an error")
	}
	if err := tf.System.Set("local:maxprocs=1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got, want := tf.System.String(), "local:maxprocs=1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestProfile(t *testing.T) {
	if _, profiles := applyflags.ProvidersAndProfiles(); profiles["single"] == "" {
		applyflags.RegisterSystemProfile("single", "local:maxprocs=1")
	}
	var tf applyflags.Flags
	if err := tf.System.Set("single"); err != nil {
		t.Fatal(err)
	}
	if got, want := tf.System.String(), "local:maxprocs=1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	_, profiles := applyflags.ProvidersAndProfiles()
	if got, want := profiles["single"], "local:maxprocs=1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRegisterFlags(t *testing.T) {
	var (
		fs = flag.NewFlagSet("test", flag.ContinueOnError)
		tf applyflags.Flags
	)
	fs.SetOutput(ioutil.Discard)
	applyflags.RegisterFlags(fs, &tf, "apply-")
	if got, want := tf.System.String(), "local"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if tf.System.Specified {
		t.Error("system should not be specified")
	}
	if got, want := tf.Transfer, transfer.Auto; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	err := fs.Parse([]string{
		"-apply-system=internal",
		"-apply-workers=3",
		"-apply-transfer=force-direct",
		"-apply-progress",
		"-apply-verbosity=1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := tf.System.String(), "internal"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := tf.Workers, 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := tf.Transfer, transfer.Direct; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !tf.Progress {
		t.Error("progress not set")
	}
	options, err := tf.ExecOptions()
	if err != nil {
		t.Fatal(err)
	}
	// Status, system, verbosity, transfer, memory-fs, workers and progress.
	if got, want := len(options), 7; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := fs.Parse([]string{"-apply-transfer=sideways"}); err == nil {
		t.Error("expected an error")
	}
}

func TestExecOptionsInvalid(t *testing.T) {
	var tf applyflags.Flags
	if _, err := tf.ExecOptions(); err == nil {
		t.Error("expected an error")
	}
	if err := tf.System.Set("internal"); err != nil {
		t.Fatal(err)
	}
	tf.Workers = -1
	if _, err := tf.ExecOptions(); err == nil {
		t.Error("expected an error")
	}
}
