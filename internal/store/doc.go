// Package store defines interfaces for persistence dependencies (plugin
// configuration repositories and blob stores). Implementations live in other
// packages; this package must not import database drivers or concrete clients.
package store
