// Package availability implements the liveness watchdog described in §4.B:
// a per-serial online/offline state machine driven by markSeen calls and a
// periodic sweep, with a snapshot persisted so a restart does not
// immediately mark every device unavailable.
package availability
