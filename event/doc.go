// Package event defines the integration-event envelope and its wire codecs.
//
// Consumers must ignore event types they do not know. An envelope that fails
// [Envelope.Validate] wraps [ErrInvalidEnvelope] and is never retried.
package event
