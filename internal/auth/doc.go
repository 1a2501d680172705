// Package auth provides the authorization hooks the core consumes: it does
// not administer human accounts or device credentials (that is the
// frontend's and the pairing flow's job, both out of scope here), it only
// verifies device entry keys and frontend API keys against the
// entry_keys/api_keys tables and checks (userId, serial) ownership/share records before letting
// a request touch a device's state.
//
// Session tokens for the frontend-facing surface are signed JWTs; whatever
// external system authenticates a human hands the core one of these, and
// the core only ever verifies the signature and reads the subject claim.
package auth
