// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package applyflags provides flag support for use by bigapply command
// line applications.
package applyflags

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigapply/exec"
	"github.com/grailbio/bigapply/transfer"
	"github.com/grailbio/bigmachine"
)

var (
	mu        sync.Mutex
	providers = map[string]Provider{} // protected by mu
	profiles  = map[string]string{}   // protected by mu
)

// Provider represents a worker provider that can be configured by
// setting some set of options via Set.
type Provider interface {
	// Name returns the name of a provider instance.
	Name() string
	// Set sets one or more options for the workers to be provided. The
	// options may be specified as key=val.
	Set(string) error
	// ExecOption returns the appropriate exec.Option to request
	// workers as configured by the currently set options.
	ExecOption() exec.Option
	// DefaultWorkers returns the default number of workers to use for
	// this provider.
	DefaultWorkers() int
}

// RegisterSystemProvider registers a 'system' provider, ie. any
// service that can provide workers to bigapply.
func RegisterSystemProvider(name string, provider Provider) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("system %s is already registered", name)
	}
	providers[name] = provider
}

// RegisterSystemProfile registers a system 'profile' which is a named
// shorthand for a system and any associated options.
func RegisterSystemProfile(name, profile string) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("profile %s is already used as a provider name", name)
	}
	if _, present := profiles[name]; present {
		log.Panicf("profile %s is already registered", name)
	}
	profiles[name] = profile
}

// ProvidersAndProfiles returns the supported providers and profiles.
func ProvidersAndProfiles() ([]string, map[string]string) {
	mu.Lock()
	defer mu.Unlock()
	prv := make([]string, 0, len(providers))
	for k := range providers {
		prv = append(prv, k)
	}
	prf := make(map[string]string, len(profiles))
	for k, v := range profiles {
		prf[k] = v
	}
	return prv, prf
}

// Internal represents in-process workers.
type Internal struct{}

// Name implements Provider.Name.
func (*Internal) Name() string { return "internal" }

// Set implements Provider.Set.
func (*Internal) Set(string) error {
	return fmt.Errorf("the internal provider does not support any configuration")
}

// ExecOption implements Provider.ExecOption.
func (*Internal) ExecOption() exec.Option { return exec.Local }

// DefaultWorkers implements Provider.DefaultWorkers.
func (*Internal) DefaultWorkers() int { return runtime.NumCPU() }

// Local represents workers that run as separate processes on the
// local machine.
type Local struct {
	// Maxprocs limits the number of procs used by each worker
	// process; 0 means no limit.
	Maxprocs int
}

// Name implements Provider.Name.
func (*Local) Name() string { return "local" }

// Set implements Provider.Set. The only supported option is
// maxprocs=<n>.
func (l *Local) Set(v string) error {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("not in key=val format %q", v)
	}
	switch parts[0] {
	case "maxprocs":
		var n int
		if _, err := fmt.Sscan(parts[1], &n); err != nil || n < 0 {
			return fmt.Errorf("not a valid proc count: %v", parts[1])
		}
		l.Maxprocs = n
	default:
		return fmt.Errorf("unsupported option: %v", parts[0])
	}
	return nil
}

// ExecOption implements Provider.ExecOption.
func (l *Local) ExecOption() exec.Option {
	if l.Maxprocs > 0 {
		return exec.Bigmachine(bigmachine.Local, bigmachine.Environ{fmt.Sprintf("GOMAXPROCS=%d", l.Maxprocs)})
	}
	return exec.Bigmachine(bigmachine.Local)
}

// DefaultWorkers implements Provider.DefaultWorkers.
func (*Local) DefaultWorkers() int { return runtime.NumCPU() }

func init() {
	RegisterSystemProvider("local", &Local{})
	RegisterSystemProvider("internal", &Internal{})
}

// SystemHelpShort is a short explanation of the allowed SystemFlag
// values.
func SystemHelpShort(prefix string) string {
	const format = `a bigapply system is specified as follows: {local[:maxprocs=n],internal,name}, use -%s for more information.`
	return fmt.Sprintf(format, prefix+"system-help")
}

// SystemHelpLong is a complete explanation of the allowed SystemFlag
// values.
const SystemHelpLong = `A bigapply system is specified as follows:

<system-type>:<options> where options is [key=value,]+

The currently supported system types and their options are as follows:

local: one worker process per partition on this machine, the default.
	maxprocs=<number> - the GOMAXPROCS of each worker process
internal: in-process workers, one goroutine per partition.

In addition, an application may register 'profiles' that are shorthand
for the above, eg. "small" can be configured as a synonym for
local:maxprocs=1.
`

// SystemFlag represents a flag that can be used to specify a worker
// provider.
type SystemFlag struct {
	Provider  Provider
	Options   []string
	Specified bool
}

// String implements flag.Value.String
func (sys *SystemFlag) String() string {
	if sys.Provider == nil {
		return ""
	}
	if len(sys.Options) == 0 {
		return sys.Provider.Name()
	}
	return fmt.Sprintf("%v:%v", sys.Provider.Name(), strings.Join(sys.Options, ","))
}

// Set implements flag.Value.Set
func (sys *SystemFlag) Set(v string) error {
	parse := func(s string) (name string, options []string) {
		parts := strings.SplitN(s, ":", 2)
		name = parts[0]
		if len(parts) > 1 {
			options = strings.Split(parts[1], ",")
		}
		return
	}

	name, options := parse(v)
	mu.Lock()
	if profile, ok := profiles[name]; ok {
		var profileOptions []string
		name, profileOptions = parse(profile)
		options = append(profileOptions, options...)
	}
	provider, ok := providers[name]
	mu.Unlock()
	if !ok {
		return fmt.Errorf("unsupported system or profile type: %v", name)
	}
	for _, opt := range options {
		if err := provider.Set(opt); err != nil {
			return err
		}
	}
	sys.Options = options
	sys.Provider = provider
	sys.Specified = true
	return nil
}

// Get implements flag.Value.Get
func (sys *SystemFlag) Get() interface{} {
	return sys.String()
}

// Flags represents all of the flags that can be used to configure
// a bigapply command.
type Flags struct {
	System        SystemFlag
	SystemHelp    bool
	HTTPAddress   cmdutil.NetworkAddressFlag
	ConsoleStatus bool
	Workers       int
	Progress      bool
	Verbosity     int
	Transfer      transfer.Mode
	MemoryFS      string
	fs            *flag.FlagSet
}

// Output returns an appropriate io.Writer for printing out help/usage
// messages as per the underlying flag.Flagset.
func (bf *Flags) Output() io.Writer {
	if bf.fs == nil {
		return os.Stderr
	}
	if wr := bf.fs.Output(); wr != nil {
		return wr
	}
	return os.Stderr
}

// Defaults represents default values for the supported flags.
type Defaults struct {
	System        string
	HTTPAddress   string
	ConsoleStatus bool
	Workers       int
	Progress      bool
	Verbosity     int
	Transfer      transfer.Mode
	MemoryFS      string
}

// RegisterFlags registers the bigapply command line flags with the
// supplied flag set. The flag names will be prefixed with the
// supplied prefix.
func RegisterFlags(fs *flag.FlagSet, bf *Flags, prefix string) {
	RegisterFlagsWithDefaults(fs, bf, prefix, Defaults{
		System:      "local",
		HTTPAddress: ":3333",
		Transfer:    transfer.Auto,
		MemoryFS:    transfer.MemoryFSRoot,
	})
}

// RegisterFlagsWithDefaults registers the bigapply command line flags
// with the supplied flag set and defaults. The flag names will be
// prefixed with the supplied prefix.
func RegisterFlagsWithDefaults(fs *flag.FlagSet, bf *Flags, prefix string, defaults Defaults) {
	fs.Var(&bf.System, prefix+"system", SystemHelpShort(prefix))
	bf.System.Set(defaults.System)
	bf.System.Specified = false
	fs.Var(&bf.HTTPAddress, prefix+"http", "address of http status server")
	bf.HTTPAddress.Set(defaults.HTTPAddress)
	bf.HTTPAddress.Specified = false
	fs.BoolVar(&bf.ConsoleStatus, prefix+"console-status", defaults.ConsoleStatus, "print status to stdout")
	fs.IntVar(&bf.Workers, prefix+"workers", defaults.Workers, "number of workers, 0 requests an appropriate default for the system")
	fs.BoolVar(&bf.Progress, prefix+"progress", defaults.Progress, "report and display worker progress")
	fs.IntVar(&bf.Verbosity, prefix+"verbosity", defaults.Verbosity, "log setup diagnostics at verbosity 1 and above")
	bf.Transfer = defaults.Transfer
	fs.Var(&bf.Transfer, prefix+"transfer", "transfer mode: auto, force-shared or force-direct")
	fs.StringVar(&bf.MemoryFS, prefix+"memory-fs", defaults.MemoryFS, "root of the memory-backed file system used by shared transfers")
	fs.BoolVar(&bf.SystemHelp, prefix+"system-help", false, "provide help on system providers and profiles")
	bf.fs = fs
}

// ExecOptions returns the exec.Options represented by the flag
// values.
func (bf *Flags) ExecOptions() ([]exec.Option, error) {
	if bf.System.Provider == nil {
		return nil, fmt.Errorf("no system specified")
	}
	if bf.Workers < 0 {
		return nil, fmt.Errorf("invalid worker count %d", bf.Workers)
	}
	var applyStatus status.Status
	options := []exec.Option{
		exec.Status(&applyStatus),
		bf.System.Provider.ExecOption(),
		exec.Verbosity(bf.Verbosity),
		exec.Transfer(bf.Transfer),
	}
	if bf.MemoryFS != "" {
		options = append(options, exec.MemoryFS(bf.MemoryFS))
	}
	if bf.Workers > 0 {
		options = append(options, exec.Workers(bf.Workers))
	} else {
		options = append(options, exec.Workers(bf.System.Provider.DefaultWorkers()))
	}
	if bf.Progress {
		options = append(options, exec.ShowProgress)
	}
	return options, nil
}
