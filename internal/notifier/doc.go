// Package notifier delivers rendered notifications asynchronously.
//
// Notify validates and enqueues a message and returns immediately. A small
// worker pool drains the queue through a shared token-bucket limiter and
// hands each message to the transport adapter, retrying failed sends with
// exponential backoff.
//
// # Delivery outcomes
//
// Every delivered or abandoned message is published on the event bus
// (notifier.sent, notifier.failed) and counted in Prometheus. Callers that
// need at-most-once semantics record the event before calling Notify: a
// failed delivery is never rolled back.
//
// # History
//
// The service keeps a short in-memory history of delivered messages for
// /status and the HTTP API.
package notifier
