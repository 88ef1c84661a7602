// Package ticket defines the durable support ticket record, the store contract
// every pipeline stage and the escalation scanner depend on, and the error
// taxonomy shared across the triage system.
package ticket
