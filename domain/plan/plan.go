// Package plan provides plan value types and pure policy functions.
package plan

import "time"

// Well-known plan slugs.
const (
	SlugCommunity  = "community"
	SlugPro        = "pro"
	SlugBusiness   = "business"
	SlugEnterprise = "enterprise"
)

// Plan represents a pricing tier (immutable value type).
// The table is static configuration: assembled once at startup, never
// mutated at runtime.
type Plan struct {
	Slug                  string
	Label                 string
	MonthlyQuota          int64
	AllowOverage          bool
	OverageUnitPriceCents int64 // billed per unit beyond quota, when overage is allowed
}

// Catalog is an ordered set of plans keyed by slug.
type Catalog struct {
	plans    []Plan
	fallback string
}

// NewCatalog builds a catalog from a plan list. Users whose slug is unknown
// resolve to the fallback plan.
func NewCatalog(plans []Plan, fallback string) Catalog {
	return Catalog{plans: plans, fallback: fallback}
}

// BySlug returns the plan for a slug, or the fallback plan when the slug is
// empty or unknown.
func (c Catalog) BySlug(slug string) Plan {
	if p, ok := c.find(slug); ok {
		return p
	}
	p, _ := c.find(c.fallback)
	return p
}

// Plans returns all plans in catalog order.
func (c Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

func (c Catalog) find(slug string) (Plan, bool) {
	for _, p := range c.plans {
		if p.Slug == slug {
			return p, true
		}
	}
	return Plan{}, false
}

// communitySunsetMonths is how many whole calendar months a community
// account may stay active before it must convert to a paid plan.
const communitySunsetMonths = 3

// MonthsActive returns the whole-calendar-month age of an account.
// This is a PURE function.
func MonthsActive(createdAt, now time.Time) int {
	c, n := createdAt.UTC(), now.UTC()
	return (n.Year()-c.Year())*12 + int(n.Month()) - int(c.Month())
}

// SunsetBlocked reports whether the free-tier sunset rule blocks a user.
// Only community accounts sunset; the rule depends on wall-clock time and
// must be re-evaluated on every admission decision, never cached.
// This is a PURE function.
func SunsetBlocked(p Plan, createdAt, now time.Time) bool {
	if p.Slug != SlugCommunity {
		return false
	}
	return MonthsActive(createdAt, now) >= communitySunsetMonths
}

// Defaults returns the built-in plan table. Config may override any field.
func Defaults() []Plan {
	return []Plan{
		{Slug: SlugCommunity, Label: "Community", MonthlyQuota: 1000, AllowOverage: false},
		{Slug: SlugPro, Label: "Pro", MonthlyQuota: 20000, AllowOverage: true, OverageUnitPriceCents: 15},
		{Slug: SlugBusiness, Label: "Business", MonthlyQuota: 150000, AllowOverage: false},
		{Slug: SlugEnterprise, Label: "Enterprise", MonthlyQuota: 100000, AllowOverage: false},
	}
}
