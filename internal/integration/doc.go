// Package integration fans device state changes out to per-user
// integration instances (currently: an MQTT bridge exposing the Nest
// liberation protocol as Home Assistant-style topics) and translates
// inbound broker commands back into device state writes.
//
// A Manager owns one running instance per user and serializes that user's
// start/stop/restart so a config change or a startup failure never races a
// concurrent request for the same user.
package integration
