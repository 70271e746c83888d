// Package scheduler computes trigger times for periodic poll tasks and
// enqueues them into the shared task engine.
//
// Every entry is an interval with a phase offset: the first run fires at
// start+offset (plus a small spread), then every interval. Execution,
// retries and overlap gating belong to internal/task/engine.
package scheduler
