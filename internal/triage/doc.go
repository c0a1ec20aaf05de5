// Package triage is the business boundary for Traceback's incident triage.
// It defines the Workflow (supervisor, impact assessor and writer stages over
// a fixed-shape State), the Service (ids, dedup, persistence, async dispatch,
// notification), the Store interface and the domain models.
package triage
