// Package store declares the persistence contract for job runs. Implementations
// live elsewhere; this package must not import database drivers.
package store
