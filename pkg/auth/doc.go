// Package auth provides accounts, password hashing and bearer tokens.
//
// # Roles
//
//	SUPER_ADMIN  - platform operator, no tenant, bypasses usage limits
//	TENANT_ADMIN - administers one tenant
//	MANAGER      - manages teams and tasks in a tenant
//	MEMBER       - works inside a tenant
//
// # Tokens
//
// Bearer tokens are HS256 JWTs carrying the user ID (sub), role, email and
// tenant. They are validated without a database round trip:
//
//	tm := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
//	token, expiresAt, err := tm.IssueToken(user)
//	authCtx, err := tm.ValidateToken(token)
//
// # Seats
//
// A tenant user occupies one unit of the tenant's user ceiling.
// PostgresUserStore.CreateUser reserves the seat and inserts the user in the
// same transaction; DeactivateUser releases it.
package auth
