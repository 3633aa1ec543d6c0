// Package report provides the business boundary for the grievance intake
// lifecycle. It defines the Service (authorization, transition gating, filter
// decisions, routing), the Catalog of statuses and transition rules, the Store
// interface (persistence) and the domain models.
package report
