package dispatcher

import "time"

// Config sizes a Dispatcher's elastic worker pool and its background
// monitor. Zero-valued fields are filled in from DefaultConfig by New.
type Config struct {
	// MinWorkers is the pool size maintained even when idle.
	MinWorkers int
	// MaxWorkers bounds how far the pool grows under ready-queue pressure.
	MaxWorkers int
	// IdleRetireAfter is how long a worker must sit idle before the
	// monitor retires it, down to MinWorkers.
	IdleRetireAfter time.Duration
	// HungTaskAfter is how long a task may run before the monitor logs a
	// diagnostic warning about it. Diagnostic only; the task keeps running.
	HungTaskAfter time.Duration
	// MonitorInterval is the sweep period for idle retirement and
	// hung-task detection.
	MonitorInterval time.Duration
	// DetectConcurrentUnitAccess opts into a diagnostic check that warns
	// when two workers are running parallel-mode tasks for the same unit
	// at once. Off by default since it costs an atomic per task.
	DetectConcurrentUnitAccess bool
}

// DefaultConfig returns the sizing this module ships with out of the box:
// a small resident pool, a generous idle window, and a 15s hung-task
// threshold checked every 5s.
func DefaultConfig() Config {
	return Config{
		MinWorkers:      2,
		MaxWorkers:      8,
		IdleRetireAfter: 60 * time.Second,
		HungTaskAfter:   15 * time.Second,
		MonitorInterval: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinWorkers <= 0 {
		c.MinWorkers = d.MinWorkers
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = d.MaxWorkers
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.IdleRetireAfter <= 0 {
		c.IdleRetireAfter = d.IdleRetireAfter
	}
	if c.HungTaskAfter <= 0 {
		c.HungTaskAfter = d.HungTaskAfter
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	return c
}
