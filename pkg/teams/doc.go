// Package teams manages the teams of a tenant and their members.
//
// Creating a team takes one unit of the tenant's team ceiling. The tenant
// row is locked, the ceiling checked and the counter incremented in the same
// transaction as the insert, so two concurrent creations can never both pass
// the last free slot. Super admins skip the ceiling check but still move the
// counter. Deleting a team gives the unit back.
package teams
