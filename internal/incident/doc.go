// Package incident provides the business boundary for Warden's incident
// lifecycle: alert ingestion with classification and evidence enrichment,
// the human approval/execution flow, and the Store interface both converge
// on, together with the domain models and the append-only audit trail.
package incident
