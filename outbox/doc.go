// Package outbox implements the transactional outbox.
//
// [Append] stages an event in the same transaction as the state change it
// describes. A [Dispatcher] later publishes committed records to the broker,
// in append order per tenant, retrying with capped exponential backoff and
// flagging a record for operator attention once its attempts run out.
// Delivery is at least once; consumers deduplicate by event id.
//
// [Retention] removes dispatched records and consumer dedup fences after the
// retention window.
package outbox
