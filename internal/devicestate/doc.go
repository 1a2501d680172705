// Package devicestate is the thin façade described in §4.D: every mutating
// path in the server goes through Service.Upsert so the watchdog,
// subscription manager, and integration bus observe every change in the
// fixed order the concurrency model requires.
package devicestate
