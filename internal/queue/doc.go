// Package queue defines the job store contract for email jobs.
//
// A Store holds EmailJobs in one of five states (waiting, active, completed,
// failed, delayed) and is the only shared mutable resource between the
// email service, the dispatcher workers and the admin surface. Backends live
// under internal/repository: memory (tests and local development), postgres
// and redis (durable).
//
// Every backend must make the claim step of DequeueNext linearizable: no two
// callers ever receive the same job. Mutations of an active job are fenced on
// the worker that claimed it, so a worker whose lease expired cannot overwrite
// the outcome of a later attempt.
package queue
