// Package transport delivers a single rendered email to an external
// provider and reports a receipt.
//
// Drivers: SMTP relay (net/smtp), AWS SES (sesv2), SparkPost (Transmissions
// API) and a log-only driver for local development. Errors wrapped with
// Permanent are final and must not be retried; any other error is treated
// as a transient transport failure.
package transport
