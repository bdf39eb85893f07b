// Package retry holds the retry decisions of the forwarder: how long to wait
// before each retry, which failures are worth retrying, and how transport
// errors are classified into breaker outcomes.
package retry
