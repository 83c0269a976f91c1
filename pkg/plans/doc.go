// Package plans is the plan catalog: priced tiers with resource limits,
// feature flags and a trial length.
//
// Plans are read-mostly. PostgresService owns persistence, Catalog adds an
// expiring LRU in front of it, and Seeder keeps the table in sync with a YAML
// seed file (see deploy/plans.yaml), re-syncing when the file changes.
//
// Changing a plan never rewrites the limits already copied onto tenants;
// tenants keep the limits they subscribed with until their subscription
// changes.
package plans
