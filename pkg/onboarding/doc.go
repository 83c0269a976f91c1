// Package onboarding registers new tenants and turns invitations into
// accounts.
//
// A signup is one unit of work: the tenant (PENDING), its TENANT_ADMIN, the
// default settings row, the verified {slug}.{base} subdomain, a subscription
// to the chosen plan and the PENDING payment for it are created in a single
// transaction. The welcome email and the activity entry follow the commit and
// never fail the signup.
//
//	svc := onboarding.NewService(db, onboarding.Options{BaseDomain: "example.com"})
//	result, err := svc.Signup(ctx, &onboarding.SignupRequest{...})
//
// The tenant stays PENDING until its payment is approved; see the billing
// package for the approval cascade.
package onboarding
