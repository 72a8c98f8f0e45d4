// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package applyconfig provides a mechanism to create a bigapply
// session from a shared configuration. Applyconfig uses the
// configuration mechanism in package
// github.com/grailbio/base/config, and reads a default profile from
// $HOME/.bigapply/config.
package applyconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigapply/exec"
)

// Path determines the location of the bigapply profile read
// by Parse.
var Path = os.ExpandEnv("$HOME/.bigapply/config")

// Parse registers configuration flags and calls flag.Parse. It reads
// bigapply configuration from Path defined in this package. Parse
// returns a session as configured by the configuration and any flags
// provided, together with a func that shuts the session down. Parse
// panics if session creation fails.
func Parse() (sess *exec.Session, shutdown func()) {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	config.Must("bigapply", &sess)
	return sess, sess.Shutdown
}
