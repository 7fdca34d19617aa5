// Package cluster holds the JSON shapes and HTTP helpers shared by the admin
// endpoints of rangedir processes and the dirctl tool.
//
// The directory itself speaks the line protocol (see package protocol). The
// admin surface is a side channel for operators:
//
//	coordinator  GET  /health   liveness
//	             GET  /hosts    host table with probe status
//	             POST /hosts    add a free host
//	shard        GET  /health   liveness
//	             GET  /info     range, state, key count, operation counters
package cluster
