// Package reconciler derives per-user "away" and weather state from a
// user's owned devices and writes the result back onto each of them,
// per the cross-device reconciliation responsibility of the device state
// service.
//
// Both reconcilers read every owned device's reported state, fold it into
// one summary, then upsert that summary onto every owned device's user
// object so a client reading any one device sees the same away/weather
// answer. Running a reconciler twice with no intervening device change
// must be a no-op beyond a bumped revision (the fixpoint property).
package reconciler
