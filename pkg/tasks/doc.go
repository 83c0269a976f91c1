// Package tasks manages the tasks of a tenant.
//
// Every task counts against the tenant's project ceiling. A task moves
// through TODO, IN_PROGRESS, IN_REVIEW and COMPLETED following Transitions;
// CANCELLED is terminal. Subtasks hang off a top-level task and are deleted
// with it.
package tasks
