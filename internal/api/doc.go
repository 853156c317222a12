// Package api defines wire-format types and converters for the daemon's HTTP
// API. It translates internal queue models into transport-friendly DTOs and
// provides the HTTP client the CLI uses to talk to a running daemon.
//
// DTOs use camelCase JSON tags. Internal enums (queue.Stage) are exposed as
// lowercase strings. Timestamps use RFC3339 with milliseconds.
package api
