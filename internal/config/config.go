// Package config loads the proxy's runtime knobs from the environment
// variables named in the external-interface contract, falling back to
// documented defaults. Parsing stays on the standard library's strconv:
// the corpus's configuration stacks (dskit/flagext, spf13/viper) are all
// built around flag.FlagSet/struct-tag registration for rich multi-file
// YAML configs, which would be pure ceremony around four scalar env
// vars with no config file in scope for this proxy — see DESIGN.md.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults match the "implementation-defined" values spec.md calls out.
const (
	DefaultWorkerCount     = 8
	DefaultCacheTTLMillis  = 60000
	DefaultCacheCapacity   = 1024
	DefaultQueueCapacity   = 256
	DefaultDrainOnShutdown = false
)

const (
	envWorkerCount   = "CLIENT_HANDLER_COUNT"
	envCacheTTLMs    = "CACHE_EXPIRED_TIME_MS"
	envCacheCapacity = "CACHE_CAPACITY"
	envQueueCapacity = "TASK_QUEUE_CAPACITY"
)

// Config holds the fully resolved runtime configuration.
type Config struct {
	WorkerCount   int
	CacheTTL      time.Duration
	CacheCapacity int
	QueueCapacity int

	// DrainOnShutdown is the explicit knob spec.md §9 calls for: whether
	// tasks still queued at shutdown are run to completion (true) or
	// dropped (false, matching the reference source's behavior).
	DrainOnShutdown bool
}

// Warning mirrors the teacher's CheckConfig()-style warning shape: a
// human message plus an optional explanation, logged but non-fatal.
type Warning struct {
	Message string
	Explain string
}

// FromEnvironment resolves a Config from the process environment,
// returning one Warning per malformed (non-numeric, non-positive)
// variable encountered; the corresponding field keeps its default.
func FromEnvironment() (Config, []Warning) {
	cfg := Config{
		WorkerCount:     DefaultWorkerCount,
		CacheTTL:        DefaultCacheTTLMillis * time.Millisecond,
		CacheCapacity:   DefaultCacheCapacity,
		QueueCapacity:   DefaultQueueCapacity,
		DrainOnShutdown: DefaultDrainOnShutdown,
	}

	var warnings []Warning

	if n, ok, w := positiveIntEnv(envWorkerCount); ok {
		cfg.WorkerCount = n
	} else if w != nil {
		warnings = append(warnings, *w)
	}

	if n, ok, w := positiveIntEnv(envCacheTTLMs); ok {
		cfg.CacheTTL = time.Duration(n) * time.Millisecond
	} else if w != nil {
		warnings = append(warnings, *w)
	}

	if n, ok, w := positiveIntEnv(envCacheCapacity); ok {
		cfg.CacheCapacity = n
	} else if w != nil {
		warnings = append(warnings, *w)
	}

	if n, ok, w := positiveIntEnv(envQueueCapacity); ok {
		cfg.QueueCapacity = n
	} else if w != nil {
		warnings = append(warnings, *w)
	}

	return cfg, warnings
}

func positiveIntEnv(name string) (value int, ok bool, warning *Warning) {
	raw, present := os.LookupEnv(name)
	if !present || raw == "" {
		return 0, false, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false, &Warning{
			Message: fmt.Sprintf("ignoring invalid %s=%q", name, raw),
			Explain: "expected a positive integer; keeping the default",
		}
	}

	return n, true, nil
}
