// Package audit implements async dispatching of security-relevant events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, logrus, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured record with timestamp, type, principal, tenant, IP, metadata.
//
// This package owns buffering and sink delivery. Which events are emitted is
// decided by the Engine.
package audit
