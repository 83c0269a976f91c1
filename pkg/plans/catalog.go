package plans

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Catalog is a read-through cache in front of a plan Service. Plans are read
// on every subscription change and feature check but change rarely.
type Catalog struct {
	Service
	byID *lru.LRU[int64, *Plan]
}

// NewCatalog wraps svc with an in-memory LRU holding up to size plans for ttl
func NewCatalog(svc Service, size int, ttl time.Duration) *Catalog {
	if size <= 0 {
		size = 64
	}
	return &Catalog{
		Service: svc,
		byID:    lru.NewLRU[int64, *Plan](size, nil, ttl),
	}
}

// GetPlan returns a cached plan or loads it from the underlying service
func (c *Catalog) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	if plan, ok := c.byID.Get(id); ok {
		return plan, nil
	}
	plan, err := c.Service.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	c.byID.Add(id, plan)
	return plan, nil
}

// UpdatePlan updates the plan and refreshes the cache entry
func (c *Catalog) UpdatePlan(ctx context.Context, id int64, req *UpdatePlanRequest) (*Plan, error) {
	plan, err := c.Service.UpdatePlan(ctx, id, req)
	if err != nil {
		c.byID.Remove(id)
		return nil, err
	}
	c.byID.Add(id, plan)
	return plan, nil
}

// UpsertPlan upserts the plan and refreshes the cache entry
func (c *Catalog) UpsertPlan(ctx context.Context, req *CreatePlanRequest) (*Plan, error) {
	plan, err := c.Service.UpsertPlan(ctx, req)
	if err != nil {
		return nil, err
	}
	c.byID.Add(plan.ID, plan)
	return plan, nil
}

// CheckFeatureAccess reports whether the plan grants feature
func (c *Catalog) CheckFeatureAccess(ctx context.Context, planID int64, feature Feature) (bool, error) {
	plan, err := c.GetPlan(ctx, planID)
	if err != nil {
		return false, err
	}
	return plan.IsActive && plan.Features.Has(feature), nil
}

// Purge drops every cached plan
func (c *Catalog) Purge() {
	c.byID.Purge()
}
