// Package pexels is a small client for the Pexels photo search API.
//
// Every API call waits on the configured rate limiter and is retried on
// transient failures. The X-Ratelimit-Remaining header is logged and
// exported when present; when it reaches zero the limiter is paused until
// X-Ratelimit-Reset. Result counts can be cached per query.
package pexels
