// Package auth provides JWT-based access validation for the RPC bridge.
//
// Tokens are validated by signature only, no database hit; target-level
// access additionally checks that the caller's customer owns the device
// being addressed. The HTTP layer runs the validator before any call is
// dispatched, so a denied request never creates a pending call or a
// durable record.
package auth
