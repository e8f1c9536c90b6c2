// Package broker abstracts the message broker used for integration events.
//
// Two implementations are provided: [Memory], an in-process broker used by
// tests and single-binary deployments, and [RedisStreams], backed by Redis
// Streams consumer groups. Both deliver at least once.
package broker
