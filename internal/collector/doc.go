// Package collector defines the domain types and collaborator interfaces shared by
// the fan-out/fan-in pipeline: sources, tasks, results, stores, and error kinds.
package collector
