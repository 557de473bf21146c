// Package store defines the composite persistence interface for all of
// notifyd's backing state.
//
// Each subsystem defines its own store interface (event.Store,
// connreg.Store, prefs.Store, dlq.Store); the aggregate Store exposes
// them through accessors rather than embedding, because the subsystem
// contracts share operation names (Get, Store, Delete) and would
// collide if flattened into one method set.
package store

import (
	"context"

	"github.com/notifyd/notifyd/connreg"
	"github.com/notifyd/notifyd/dlq"
	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/prefs"
)

// Store is the aggregate persistence interface. One backend instance
// serves every subsystem so a process opens a single connection pool.
type Store interface {
	// Events is the event-record store (C2).
	Events() event.Store

	// Connections is the live-connection registry store (C3).
	Connections() connreg.Store

	// Preferences is the user-preference lookup.
	Preferences() prefs.Store

	// DLQ is the dead-letter inspection index.
	DLQ() dlq.Store

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the backend connection.
	Close() error
}
