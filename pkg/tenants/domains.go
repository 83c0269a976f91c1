package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/database"
)

// DomainService manages the hostnames that resolve to a tenant
type DomainService interface {
	AddDomain(ctx context.Context, tenantID int64, domain string, domainType DomainType) (*Domain, error)
	VerifyDomain(ctx context.Context, tenantID, domainID int64) (*Domain, error)
	ListDomains(ctx context.Context, tenantID int64) ([]*Domain, error)
	RemoveDomain(ctx context.Context, tenantID, domainID int64) error
	ResolveHost(ctx context.Context, host, baseDomain string) (*Tenant, error)
}

const domainColumns = `id, tenant_id, domain, type, is_verified, verified_at, created_at`

func scanDomain(row rowScanner) (*Domain, error) {
	d := &Domain{}
	if err := row.Scan(&d.ID, &d.TenantID, &d.Domain, &d.Type, &d.IsVerified, &d.VerifiedAt, &d.CreatedAt); err != nil {
		return nil, err
	}
	return d, nil
}

// NormalizeHost lowercases a host and strips any port and trailing dot
func NormalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

// DefaultSubdomain returns the subdomain every tenant receives at signup
func DefaultSubdomain(slug, baseDomain string) string {
	return slug + "." + NormalizeHost(baseDomain)
}

// AddDomain attaches an unverified domain to a tenant
func (s *PostgresService) AddDomain(ctx context.Context, tenantID int64, domain string, domainType DomainType) (*Domain, error) {
	return CreateDomainTx(ctx, s.db, tenantID, domain, domainType, false)
}

// CreateDomainTx attaches a domain using the caller's transaction
func CreateDomainTx(ctx context.Context, q database.DBTX, tenantID int64, domain string, domainType DomainType, verified bool) (*Domain, error) {
	domain = NormalizeHost(domain)
	if domain == "" || !strings.Contains(domain, ".") {
		return nil, apperr.Validation("invalid domain %q", domain)
	}
	switch domainType {
	case DomainPrimary, DomainSubdomain, DomainCustom:
	default:
		return nil, apperr.Validation("invalid domain type %q", domainType)
	}

	query := `
		INSERT INTO tenant_domains (tenant_id, domain, type, is_verified, verified_at)
		VALUES ($1, $2, $3, $4, CASE WHEN $4 THEN NOW() END)
		RETURNING ` + domainColumns
	d, err := scanDomain(q.QueryRowContext(ctx, query, tenantID, domain, domainType, verified))
	if err != nil {
		return nil, apperr.ConflictOnUnique(err, "add domain", fmt.Sprintf("domain %q is already in use", domain))
	}
	return d, nil
}

// VerifyDomain marks a tenant domain as verified
func (s *PostgresService) VerifyDomain(ctx context.Context, tenantID, domainID int64) (*Domain, error) {
	query := `
		UPDATE tenant_domains SET is_verified = true, verified_at = COALESCE(verified_at, NOW())
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + domainColumns
	d, err := scanDomain(s.db.QueryRowContext(ctx, query, domainID, tenantID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("domain", domainID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify domain: %w", err)
	}
	return d, nil
}

// ListDomains lists a tenant's domains
func (s *PostgresService) ListDomains(ctx context.Context, tenantID int64) ([]*Domain, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+domainColumns+` FROM tenant_domains WHERE tenant_id = $1 ORDER BY type, domain`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	defer rows.Close()

	var result []*Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// RemoveDomain detaches a domain from a tenant
func (s *PostgresService) RemoveDomain(ctx context.Context, tenantID, domainID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tenant_domains WHERE id = $1 AND tenant_id = $2`, domainID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to remove domain: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperr.NotFound("domain", domainID)
	}
	return nil
}

// ResolveHost finds the ACTIVE tenant serving host. A verified domain match
// wins; otherwise the first label of a host under baseDomain is treated as a
// tenant slug.
func (s *PostgresService) ResolveHost(ctx context.Context, host, baseDomain string) (*Tenant, error) {
	host = NormalizeHost(host)
	if host == "" {
		return nil, apperr.NotFound("tenant for host", host)
	}

	query := `
		SELECT ` + prefixColumns("t", tenantColumns) + `
		FROM tenant_domains d
		JOIN tenants t ON t.id = d.tenant_id
		WHERE d.domain = $1 AND d.is_verified = true AND t.status = 'ACTIVE'
	`
	tenant, err := scanTenant(s.db.QueryRowContext(ctx, query, host))
	if err == nil {
		return tenant, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to resolve host: %w", err)
	}

	base := NormalizeHost(baseDomain)
	if base == "" || !strings.HasSuffix(host, "."+base) {
		return nil, apperr.NotFound("tenant for host", host)
	}
	slug := strings.TrimSuffix(host, "."+base)
	if strings.Contains(slug, ".") {
		slug = slug[:strings.Index(slug, ".")]
	}

	tenant, err = scanTenant(s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1 AND status = 'ACTIVE'`, slug))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("tenant for host", host)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve host: %w", err)
	}
	return tenant, nil
}

// prefixColumns qualifies a comma separated column list with a table alias
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
