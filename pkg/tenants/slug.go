package tenants

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/platinummonkey/tenancy/pkg/database"
)

// GenerateSlug derives a URL-safe slug from a display name
func GenerateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		if r == ' ' || r == '_' || r == '.' {
			return '-'
		}
		return -1
	}, slug)
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return strings.Trim(slug, "-")
}

// uniqueSlugTx returns base, or base-1, base-2, ... whichever is free
func uniqueSlugTx(ctx context.Context, q database.DBTX, base string) (string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT slug FROM tenants WHERE slug = $1 OR slug LIKE $2`,
		base, base+"-%",
	)
	if err != nil {
		return "", fmt.Errorf("failed to check slug availability: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return "", fmt.Errorf("failed to scan slug: %w", err)
		}
		taken[slug] = true
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to check slug availability: %w", err)
	}

	return nextFreeSlug(base, taken), nil
}

func nextFreeSlug(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// generateToken generates a random 64 character hex token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
