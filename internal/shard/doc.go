// Package shard implements a shard server: the storage unit of the name
// directory. A shard owns one contiguous, case-insensitive key range and
// serves lookup, put and remove for keys in it over the line protocol.
//
// # Range Ownership
//
// Every request is first tested against the shard's current range. A key
// outside it is never served or proxied; the shard asks the coordinator who
// owns the key and answers with a redirect:
//
//	sync <my-range> <owner-host> <owner-range>
//
// Routers use the notice to repair their cache and retry once.
//
// # Splitting
//
// When a put leaves the store holding SplitSize keys, the shard splits before
// answering that put:
//
//	before:  [a ........................ z]   100 keys
//	cut:     split point of the sorted keys, e.g. "a54"
//	after:   [a ...... a54]  [a54a ...... z]
//	          this shard      new shard on a host from seekHost
//
// The cut, the host reservation, the launch and the narrowing of the local
// range happen under the shard mutex. The entries above the cut are then
// copied to the new shard without the mutex; each one is removed locally only
// after the new shard acknowledged it. Requests for those keys are redirected
// from the moment the range narrows, so while the copy drains a lookup can
// briefly report a moved key as missing.
//
// If the coordinator has no free host left the shard stops trying to split
// and keeps growing over its full range.
//
// # Standalone Mode
//
// Without a coordinator a shard owns every key, never redirects and never
// splits. This is the single-process form of the same protocol.
package shard
