// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package applycmd provides utilities for implementing
// bigapply-based command line tools. The main entry point,
// applycmd.Main, configures bigapply according to a common set of
// flags, and then invokes the user's driver code.
//
// An applycmd tool follows this form:
//
//	var square = bigapply.Func(func(x int) int { return x * x }, "x")
//
//	func main() {
//		applycmd.Main(func(sess *exec.Session, args []string) error {
//			ctx := context.Background()
//			squares, err := sess.Run(ctx, adapters.Map, ints, square.Invocation())
//			if err != nil {
//				return err
//			}
//			// Do something with squares...
//			return nil
//		})
//	}
package applycmd

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Pprof is exposed on the local diagnostic web server.
	"os"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigapply/applyflags"
	"github.com/grailbio/bigapply/exec"
)

// Main is a convenient entry point for an applycmd. Main does not
// return; it should be called after other initialization is
// performed. Main parses (global) flags, and configures bigapply
// accordingly. Main then invokes the provided func with a bigapply
// session which can be used to run invocations. Main also passes the
// unparsed arguments.
//
// Main starts a diagnostic web server (default address :3333), using
// http.DefaultServeMux, which includes pprof handlers as well as
// bigmachine's aggregated pprof handlers.
//
// Main terminates the program after the user func returns. If it
// returns with an error, it is reported and the process exits with
// code 1, otherwise it exits successfully.
func Main(main func(sess *exec.Session, args []string) error) {
	var fl applyflags.Flags
	applyflags.RegisterFlags(flag.CommandLine, &fl, "")
	log.AddFlags()
	flag.Parse()
	sess, err := Init(fl)
	if err != nil {
		log.Fatal(err)
	}
	err = main(sess, flag.Args())
	sess.Shutdown()
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}

// Init initializes bigapply according to the supplied flags.
func Init(bf applyflags.Flags) (*exec.Session, error) {
	if bf.SystemHelp {
		providers, profiles := applyflags.ProvidersAndProfiles()
		sort.Strings(providers)
		wr := bf.Output()
		str := []string{}
		fmt.Fprintf(wr, "%s\n\n", applyflags.SystemHelpLong)
		fmt.Fprintf(wr, "The available providers are: %v\n",
			strings.Join(providers, ", "))
		for k, v := range profiles {
			str = append(str, fmt.Sprintf("%v is shorthand for: %v\n", k, v))
		}
		sort.Strings(str)
		for _, s := range str {
			wr.Write([]byte(s))
		}
		os.Exit(0)
	}
	options, err := bf.ExecOptions()
	if err != nil {
		return nil, err
	}
	sess, err := exec.Start(options...)
	if err != nil {
		return nil, err
	}
	DisplayStatus(bf, sess)
	return sess, nil
}

// DisplayStatus arranges for the bigapply execution status to be
// displayed on the console and/or a web page depending on the flags
// specified on the command line. The web page is hosted at
// /debug/status on http.DefaultServeMux.
func DisplayStatus(bf applyflags.Flags, sess *exec.Session) {
	if sess.Status() == nil {
		return
	}
	if bf.ConsoleStatus {
		var console status.Reporter
		go console.Go(os.Stdout, sess.Status())
	}
	if len(bf.HTTPAddress.Address) > 0 {
		sess.HandleDebug(http.DefaultServeMux)
		http.Handle("/debug/status", status.Handler(sess.Status()))
		go func() {
			log.Printf("HTTP Status at: %v\n", bf.HTTPAddress)
			err := http.ListenAndServe(bf.HTTPAddress.Address, nil)
			if err != nil {
				log.Error.Printf("Failed to start HTTP at: %v: %v\n", bf.HTTPAddress, err)
			}
		}()
	}
}
