// Package correlation matches asynchronous replies to the requests that
// caused them.
//
// A dispatcher registers a correlation id and receives a Handle; whoever
// holds the Handle can wait for the single Outcome of the exchange. The
// registry guarantees exactly one resolution per id: the first of reply,
// timeout, or cancellation wins and removes the entry, later attempts
// report failure and carry no effect.
//
// Expiry is enforced twice: a per-entry timer fires at the deadline, and
// a periodic sweep catches entries whose timer was lost. Both paths read
// the same clock, so an entry never outlives its deadline by more than
// one sweep interval.
package correlation
