// Package pipeline runs a single ticket through the fixed chain of stages:
// fetch, duplicate detection, triage and update.
//
// Stages exchange an immutable Payload value. Only the update stage writes to
// the ticket store, and it writes exactly once per run, so a run that fails
// part way leaves the ticket untouched.
package pipeline
