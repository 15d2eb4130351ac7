package cmd

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

type Options struct {
	Watch     bool
	Once      bool
	List      bool
	Set       string
	Delete    string
	CPUs      string
	Database  string
	ConfigDir string
	Interval  time.Duration
	JSON      bool
}

var ErrInvalidArguments = errors.New("invalid arguments")

func ParseFlags() *Options {
	opts := &Options{}
	flag.BoolVar(&opts.Watch, "watch", false, "Run the headless watcher (no UI)")
	flag.BoolVar(&opts.Once, "once", false, "Run a single watch cycle and exit")
	flag.BoolVar(&opts.List, "list", false, "Print stored rules and exit")
	flag.StringVar(&opts.Set, "set", "", "Store a rule for the given process name (requires -cpus)")
	flag.StringVar(&opts.Delete, "delete", "", "Delete the rule for the given process name")
	flag.StringVar(&opts.CPUs, "cpus", "", "CPU list for -set, e.g. 0-3,6")
	flag.StringVar(&opts.Database, "db", "", "Rule database path (overrides config)")
	flag.StringVar(&opts.ConfigDir, "config", "", "Config directory")
	flag.DurationVar(&opts.Interval, "interval", 0, "Watch interval (overrides config)")
	flag.BoolVar(&opts.JSON, "json", false, "Output in JSON format (with -list)")
	flag.Parse()
	return opts
}

func Validate(opts *Options) error {
	if opts == nil {
		return fmt.Errorf("%w: options are required", ErrInvalidArguments)
	}

	modes := 0
	for _, on := range []bool{opts.Watch, opts.Once, opts.List, opts.Set != "", opts.Delete != ""} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return fmt.Errorf("%w: -watch, -once, -list, -set and -delete are mutually exclusive", ErrInvalidArguments)
	}

	if opts.JSON && !opts.List {
		return fmt.Errorf("%w: -json requires -list", ErrInvalidArguments)
	}
	if opts.CPUs != "" && opts.Set == "" {
		return fmt.Errorf("%w: -cpus requires -set", ErrInvalidArguments)
	}
	if opts.Set != "" && strings.TrimSpace(opts.CPUs) == "" {
		return fmt.Errorf("%w: -set requires -cpus", ErrInvalidArguments)
	}
	if opts.Interval < 0 {
		return fmt.Errorf("%w: -interval must be positive", ErrInvalidArguments)
	}

	return nil
}
