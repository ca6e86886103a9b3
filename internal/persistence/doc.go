// Package persistence stores engine snapshots in a key-value backend.
//
// Values are JSON wrapped in a {"version", "data"} envelope. Data written
// before envelopes existed is treated as version 0 and upgraded on load by
// chaining pure migration functions.
package persistence
