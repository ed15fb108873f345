// Package logging provides the structured logger used across the planner,
// task graph, and runtime. It is a thin wrapper around hashicorp/go-hclog,
// matching the logging style used throughout the codebase this module was
// adapted from: a single named root logger, with call sites deriving
// component-scoped children via Named.
package logging

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	once sync.Once
	root hclog.Logger
)

// Root returns the process-wide root logger, initializing it on first use
// from the VEGAFUSION_LOG environment variable (trace, debug, info, warn,
// error; defaults to warn). Components should call Root().Named("thing")
// rather than logging through the root logger directly.
func Root() hclog.Logger {
	once.Do(func() {
		level := hclog.LevelFromString(os.Getenv("VEGAFUSION_LOG"))
		if level == hclog.NoLevel {
			level = hclog.Warn
		}
		root = hclog.New(&hclog.LoggerOptions{
			Name:            "vegafusion",
			Level:           level,
			Output:          os.Stderr,
			IncludeLocation: level <= hclog.Debug,
		})
	})
	return root
}

// Named returns a child of the root logger scoped to the given component,
// e.g. Named("planner") or Named("taskgraph").
func Named(component string) hclog.Logger {
	return Root().Named(component)
}
