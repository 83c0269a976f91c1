// Package tenants is the tenant registry.
//
// A tenant moves through PENDING, ACTIVE, SUSPENDED and CANCELLED only via
// the Transitions table. Usage counters live on the tenant row and are
// changed with single conditional UPDATE statements (see ReserveTx), so two
// concurrent creations can never push a tenant past its plan ceiling.
//
// Functions with a Tx suffix take a database.DBTX and run inside the
// caller's transaction; the signup and payment approval flows compose them.
package tenants
