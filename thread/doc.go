// Package thread runs script functions on their own OS threads, each inside a
// fresh isolate.
//
// Spawn transfers the entry function and its arguments into the new isolate
// and starts the thread. The thread's results stay in its isolate until a
// join transfers them back and destroys the isolate. A detached thread
// destroys its own isolate on exit.
//
// Cancellation is cooperative. A cancelled thread unwinds at the next
// cancellation point, runs its cleanup stack and reports Cancelled to the
// joiner instead of results.
package thread
