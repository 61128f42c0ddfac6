// Package grpcnotify exposes a notifyloop runtime over gRPC, as the
// notify.Notifier service. It supports both delivery modes: unary
// subscribe-then-read polling, backed by per-subscription pull streams, and
// a server-streaming watch, backed by the shared dispatch loop.
//
// The service descriptor is constructed programmatically (see notify.proto
// for the equivalent schema), and messages are handled dynamically, so no
// generated code is involved.
package grpcnotify
