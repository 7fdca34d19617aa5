// Package coordinator implements the control plane of the name directory: a
// single table of hosts recording which host serves which key range, and the
// line protocol shards use to consult and update it.
//
// # Overview
//
// The coordinator never sees directory entries. Shards hold the data and
// decide on their own when to split; the coordinator only hands out free
// hosts, records the outcome of each split, and answers "who owns this key"
// for shards that receive requests outside their range.
//
//	┌──────────────────────────────────────┐
//	│             COORDINATOR              │
//	├──────────────────────────────────────┤
//	│  Server (line protocol)              │
//	│    seekHost <range>  → ok <host>     │
//	│    seekKey  <key>    → ok <host> <r> │
//	│    register <range>  → ok            │
//	│                                      │
//	│  Directory (one mutex)               │
//	│    host  range  linked               │
//	│                                      │
//	│  HealthMonitor (informational)       │
//	│    probes linked shard hosts         │
//	└──────────────────────────────────────┘
//
// # Split Lifecycle
//
// A split touches the directory twice:
//
//  1. The splitting shard calls seekHost with the upper half. The first free
//     host is reserved for it and returned.
//  2. The shard launched on that host calls register with the same range once
//     it is ready. The reserved host becomes linked and the host whose range
//     contains the new lower bound is narrowed to end just before it.
//
// Between the two steps seekKey still names the splitting shard as owner of
// the upper half, because reserved hosts are not linked.
//
// # Failure Handling
//
// The coordinator is a single process without persistence. Records are never
// deleted during a run, and an unhealthy host keeps its range: the health
// monitor only reports.
package coordinator
