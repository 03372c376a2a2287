// Package device is the catalog of RPC targets.
//
// The bridge only needs to know that a target exists, which transport
// protocol it speaks, and which customer owns it; everything else about
// a device lives with the adapters on the far side of the bus.
package device
