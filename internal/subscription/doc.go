// Package subscription implements the long-poll waiter registry described
// in §4.C: a waiter is registered against a serial (and optionally a set of
// object keys), delivered to at most once, and removed on delivery,
// cancellation, or timeout.
package subscription
