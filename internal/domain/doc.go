// Package domain defines the core types of the mail queue: email jobs, their
// payloads and lifecycle states, bulk requests, delivery receipts and queue
// statistics.
//
// The package imports nothing from internal/. Job stores, the dispatcher,
// the email service and the HTTP handlers all exchange these types, so
// anything with I/O or a context belongs elsewhere. JSON tags are part of
// the contract: they are the API shape and the form jobs take in Redis and
// in archived events.
package domain
