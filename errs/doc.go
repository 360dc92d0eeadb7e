// Package errs provides the structured error type shared by every isothread
// package.
//
// Errors fall into three kinds:
//
//   - KindArgument: a malformed attribute set, a value that cannot cross an
//     isolate boundary, or a cookie that does not name the expected primitive.
//     Path names the offending position ("argument #2", "upvalue 1 (x)").
//   - KindResource: allocation or initialization failed; nothing partially
//     constructed is left behind.
//   - KindOperation: a call on a live handle failed with an errno-style Code
//     (busy, timed out, not owner...). These are returned, never raised.
//
// Use the sentinels with errors.Is:
//
//	if errors.Is(err, errs.ErrBusy) {
//		// lock is held elsewhere
//	}
package errs
