// Package api provides the HTTP boundary of the RPC bridge.
//
// Endpoints look synchronous to the caller: internally each dispatch
// registers a pending completion and suspends on its handle until the
// reply, timeout, or failure arrives, then translates that single
// outcome into one HTTP response. Persistent calls skip the wait and
// return the correlation id immediately; their lifecycle is queried
// through the read endpoints.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
