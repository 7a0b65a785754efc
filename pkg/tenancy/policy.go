package tenancy

import "strings"

// Partition says whether an entity type lives in each tenant or once, shared.
type Partition int

const (
	PartitionTenant Partition = iota
	PartitionShared
)

func (p Partition) String() string {
	if p == PartitionShared {
		return "shared"
	}
	return "tenant"
}

// Policy classifies entity types and computes their storage-qualified
// names. It is immutable; a reload builds a new one.
//
// With an include-list, only listed types are tenant-scoped. Otherwise
// every type is tenant-scoped except the ones in the exclude-list.
type Policy struct {
	defaultTenant string
	include       bool
	listed        map[string]struct{}
}

// NewPolicy builds the policy for cfg. The include-list wins when both lists
// are set.
func NewPolicy(cfg Config) *Policy {
	p := &Policy{defaultTenant: cfg.defaultTenant(), listed: make(map[string]struct{})}

	names := cfg.ExcludedModels
	if len(cfg.IncludedModels) > 0 {
		p.include = true
		names = cfg.IncludedModels
	}
	for _, name := range names {
		p.listed[name] = struct{}{}
	}
	return p
}

// IncludeMode reports whether the policy was built from an include-list.
func (p *Policy) IncludeMode() bool { return p.include }

// DefaultTenant is the qualifier applied to tenant-scoped names.
func (p *Policy) DefaultTenant() string { return p.defaultTenant }

// Classify returns the partition of entity.
func (p *Policy) Classify(entity string) Partition {
	_, listed := p.listed[entity]
	if listed == p.include {
		return PartitionTenant
	}
	return PartitionShared
}

// IsTenantScoped reports whether entity is stored per tenant.
func (p *Policy) IsTenantScoped(entity string) bool {
	return p.Classify(entity) == PartitionTenant
}

// Qualify returns the storage name for entity's table. Tenant-scoped tables
// are prefixed with the default tenant, after stripping any existing default
// prefix, so applying Qualify twice equals applying it once. Shared tables
// are returned unchanged.
func (p *Policy) Qualify(entity, table string) string {
	if !p.IsTenantScoped(entity) {
		return table
	}
	return p.defaultTenant + "." + p.Unqualify(table)
}

// Unqualify strips a leading default-tenant qualifier from table.
func (p *Policy) Unqualify(table string) string {
	return strings.TrimPrefix(table, p.defaultTenant+".")
}

// Resolve maps a qualified name onto the active tenant: a tenant-scoped
// "public.orders" becomes "acme.orders" while acme is active. Shared names
// pass through. An empty tenant means the default tenant.
func (p *Policy) Resolve(entity, table, tenant string) string {
	if !p.IsTenantScoped(entity) {
		return table
	}
	if tenant == "" {
		tenant = p.defaultTenant
	}
	return tenant + "." + p.Unqualify(table)
}
