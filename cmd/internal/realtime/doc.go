// Package realtime owns the client side of the duplex sync link: one
// connection lifecycle (connect, heartbeat, reconnect with backoff, topic
// membership) and dispatch of inbound server messages to subscribers.
//
// The channel never owns more than one transport handle and is never
// shared or pooled. All session state (client id, joined topics, reconnect
// attempts) is ephemeral; nothing survives a restart.
package realtime
