// Package noop provides a metrics collector that discards everything.
// Used by tests and one-shot runs where no scrape endpoint exists.
package noop

import "time"

// Collector implements ports.MetricsCollector by dropping all records.
type Collector struct{}

// NewCollector creates a new no-op metrics collector
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) RecordRunSubmitted(status string)                         {}
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {}
func (c *Collector) RecordJobExecuted(class, status string, d time.Duration)  {}
func (c *Collector) RecordStepExecuted(status string, duration time.Duration) {}
func (c *Collector) RecordCacheLookup(class string, hit bool)                 {}
func (c *Collector) RecordNotification(delivered bool)                        {}
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int)           {}
