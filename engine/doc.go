// Package engine is the replicated key-value core: the framed document
// channel, the transaction multiplexer, the server-side dispatcher and the
// multi-master replication machinery. Map views, topic publishers and
// subscriptions are projections of assets in a small path-addressed tree;
// replication is one more view on the same wire.
//
// Logging convention for engine components:
//
//	Info:  abnormal but handled events (reconnects, protocol violations,
//	       dropped sessions). Silent in normal operation apart from one-time
//	       startup data.
//	Error: unrecoverable session or engine failures.
//	V(1):  session lifecycle tracing.
//	V(2):  per-document tracing. Frequent-path events stay behind V(2).
//
// Tags: [ch] channel, [hub] client hub, [srv] server, [dsp] dispatcher,
// [re] replication, [loop] event loop.
package engine
