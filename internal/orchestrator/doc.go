// Package orchestrator composes the vendor protocol client, the push
// channel, the measurement store and the trigger correlator into a full
// synchronisation flow for one vendor server.
//
// Inbound flow:
//
//	login snapshot ─► IngestLogin ─► topology get-or-create ─┐
//	push frame ─► HandlePushMessage ─► queue ─► IngestPush ──┴─► decode ─► Attribute ─► Store.Add
//
// HandlePushMessage runs on the push channel's event loop and only decodes
// and queues. A single worker started by Run applies queued updates, so the
// loop is never blocked by storage or bus latency. A full queue rejects the
// frame and the channel reconnects; the login made on reconnect carries the
// full state again.
//
// Outbound flow (Changer):
//
//	RequestChange ─► ResolveParameter ─► change_request event ─► RecordPendingChange ─► Actuator
//
// Write capability is looked up by the parameter's capability name, so each
// vendor registers its own Actuator. VendorActuator routes the write to the
// vendor server recorded for the gateway.
//
// Health:
//
// HealthCheck is the push channel's health callback. It polls every
// gateway's online flag and reports unhealthy when the online map differs
// from the one seen by the previous check. The snapshot is replaced on
// every check.
package orchestrator
