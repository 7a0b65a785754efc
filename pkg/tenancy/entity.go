package tenancy

import (
	"strings"
	"sync"

	"github.com/iancoleman/strcase"
)

// EntityRegistry is the host's view of its persistent entity types. The
// manager reads the current table names and writes back qualified ones when
// the policy is built and whenever a type is registered later.
// SetTableName must accept entity types it has not seen before.
type EntityRegistry interface {
	Entities() []string
	TableName(entity string) string
	SetTableName(entity, table string)
}

// Catalog is an in-memory EntityRegistry for hosts without an ORM of their own.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]string
	order  []string
}

var _ EntityRegistry = (*Catalog)(nil)

// NewCatalog registers entities with their default table names.
func NewCatalog(entities ...string) *Catalog {
	c := &Catalog{tables: make(map[string]string, len(entities))}
	for _, e := range entities {
		c.SetTableName(e, DefaultTableName(e))
	}
	return c
}

// Entities returns entity names in registration order.
func (c *Catalog) Entities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// TableName returns the table for entity, or "" when unknown.
func (c *Catalog) TableName(entity string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tables[entity]
}

// SetTableName records table for entity, registering it if new.
func (c *Catalog) SetTableName(entity, table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[entity]; !ok {
		c.order = append(c.order, entity)
	}
	c.tables[entity] = table
}

// DefaultTableName derives a table name from an entity type name:
// "Order" → "orders", "SharedLog" → "shared_logs", "Company" → "companies".
func DefaultTableName(entity string) string {
	return pluralize(strcase.ToSnake(entity))
}

func pluralize(word string) string {
	switch {
	case word == "":
		return word
	case strings.HasSuffix(word, "y") && len(word) > 1 && !strings.ContainsRune("aeiou", rune(word[len(word)-2])):
		return word[:len(word)-1] + "ies"
	case strings.HasSuffix(word, "s"), strings.HasSuffix(word, "x"), strings.HasSuffix(word, "z"),
		strings.HasSuffix(word, "ch"), strings.HasSuffix(word, "sh"):
		return word + "es"
	default:
		return word + "s"
	}
}
