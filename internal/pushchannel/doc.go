// Package pushchannel keeps the vendor push WebSocket connected.
//
// A Manager moves between three phases:
//
//	Disconnected -> Connecting -> Connected
//	     ^              ^            |
//	     |              +------------+  drop: heartbeat timeout, failed
//	     |                              health check, rejected frame,
//	     +-- retries exhausted          remote close
//
// Entering Connecting always obtains a new signed address, which logs in
// again. While Connected every tick increments a heartbeat counter that
// each inbound ping resets; once it exceeds HeartbeatLimit the connection is
// closed. Reconnect delays grow exponentially with jitter up to
// MaxReconnectDelay; Run gives up after MaxRetries consecutive failures.
package pushchannel
