// Package scope groups threads under one lifetime. A scope owns the threads
// started through it, provides a join point (Wait), and propagates
// cancellation and failures according to a policy.
package scope
