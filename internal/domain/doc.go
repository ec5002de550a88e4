// Package domain defines the core types of the Gantry orchestrator:
// pipeline definitions, trigger events, the expanded job graph, run and
// job execution state, cache keys, and the events exchanged over the bus.
//
// Types here are plain data. Behavior that needs adapters (storage,
// transport, execution) lives in the application and adapter packages.
package domain
