// Package api implements the HTTP surfaces of the thermostat core.
//
// Two chi routers are exposed, each with its own listener:
//
//   - the device protocol router (§4.E): check-in, object writes, and
//     long-poll subscription, authorized per device via an entry key;
//   - the frontend-facing router: a read-only status endpoint and a
//     metrics/health surface for whatever external frontend consumes this
//     core, authorized per user via a JWT session or API key.
//
// Every mutating path on either router goes through devicestate.Service so
// the watchdog, subscription, and integration observers fire consistently.
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
