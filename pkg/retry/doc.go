// Package retry runs provider and destination calls again after transient
// failures. Typed errors from pkg/errors choose both whether to retry and
// how long to wait.
package retry
