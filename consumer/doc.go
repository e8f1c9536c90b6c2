// Package consumer applies integration events idempotently.
//
// Each event is applied inside one transaction that also inserts a
// (consumer, event_id) fence row. A redelivered event finds the fence and is
// reported as [Duplicate] without effect. Handler errors wrapped with
// [Permanent] and undecodable envelopes are dead-lettered; all other errors
// are retried through broker redelivery.
package consumer
