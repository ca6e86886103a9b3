// Package app is the coordinating layer above the unranked engine and the
// scheduler.
//
// It chains engine calls into multi-step flows such as starting an event,
// resolves display names outside the engine, runs scheduled objectives and
// writes the liveness heartbeat. Flows are not atomic across stores.
package app
