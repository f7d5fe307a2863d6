// Package email is the application layer of the mail queue: it validates
// requests, splits bulk sends into atomically enqueued chunks, and exposes
// the admin operations (stats, clear, job lookup) used by the HTTP API.
//
// It depends on queue.Store and transport.Sender interfaces only; concrete
// backends are wired in internal/app.
package email
