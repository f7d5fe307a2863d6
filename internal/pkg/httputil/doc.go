// Package httputil holds the JSON response and request helpers used by the
// API handlers. Errors share one envelope, {"error", "code", "details"}, and
// server-side failures are logged here rather than echoed to the client.
package httputil
