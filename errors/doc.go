// Package errors provides the error taxonomy used across cachescope.
//
// # Classification
//
// Errors fall into three classes:
//
//   - Transient: connection drops, backend timeouts, cancelled fetches. Retry is reasonable.
//   - Invalid: malformed commands, unknown actions, bad storage keys. Drop the input.
//   - Fatal: broken configuration or exhausted resources. Stop the process.
//
// Sentinels such as ErrQueryNotFound or ErrBackendUnavailable are matched with
// errors.Is. Classification survives wrapping:
//
//	if err := backend.SetItem(ctx, key, value); err != nil {
//	    return errors.WrapTransient(err, "Bridge", "Update", "backend write")
//	}
//
// Messages follow the pattern "component.method: action failed: cause".
package errors
