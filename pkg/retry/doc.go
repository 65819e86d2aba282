// Package retry runs an operation with exponential backoff.
//
// Do retries until the operation succeeds, MaxAttempts is reached, the error
// is wrapped with NonRetryable, or the context ends. Two hooks let callers
// plug in domain behaviour:
//
//   - OnRetry observes each failure that will be retried (the query cache uses
//     it to record fetchFailureCount and fetchFailureReason).
//   - Gate blocks before the next attempt (the query cache uses it to pause a
//     fetch while the online manager reports offline).
package retry
