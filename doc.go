// Package notifyloop implements a small runtime for cancellable recurring
// asynchronous work, and subscription-based event delivery.
//
// The package is built from a handful of tightly coupled pieces, which share
// one concurrency model. A [Canceler] is a broadcastable stop signal, able to
// wrap any number of outstanding operations, forcing them to resolve early
// with a distinguished cancelled outcome. [Race.Run] races a unit of work
// against a deadline, committing to exactly one of success, timeout, or
// failure, without ever leaking the loser. A [Repeater] re-arms a callback at
// a fixed interval until cancelled, and may be safely cancelled and
// restarted. A [Registry] owns a set of subscribers, each with its own
// cancellation state and delivery endpoint, and fans freshly generated
// [Notification] values out to the live subscribers, pruning the dead ones,
// once per tick. The [DispatchLoop] drives the registry from a Repeater, and
// a [Loop] provides the hand-off primitive which keeps registry mutation on a
// single goroutine.
//
// The registry and its entries are owned by exactly one goroutine. The only
// state intentionally shared across goroutines without a full hand-off is the
// atomic cancellation flag inside each [Subscription], which may be set from
// anywhere, via [Subscription.Cancel].
//
// See the grpcnotify subpackage for a gRPC transport exposing both the
// pull-stream and push-callback delivery models.
package notifyloop
