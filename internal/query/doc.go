// Package query is the read and management façade behind the HTTP API.
//
// It composes the meter store, the aggregation engine and the command
// channel, enforces ownership, and converts every failure into an *Error
// whose Kind says what the caller did wrong (or that the server did).
// Raw storage errors never leave this package.
package query
