// Package catalog loads a location's extraction-field configuration: the
// fields the LLM should populate, contextual rules, and escalation triggers.
// Field write targets are resolved here, once, so nothing downstream ever
// re-derives them from key shapes.
package catalog

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/store"
)

// Catalog is a location's resolved extraction configuration.
type Catalog struct {
	LocationID string
	Fields     []model.ExtractionField
	Rules      []model.ContextualRule
	Triggers   []model.StopTrigger

	byKey map[string]*model.ExtractionField
}

// Loader reads catalogs from the store.
type Loader struct {
	store store.Store
}

// NewLoader creates a catalog Loader.
func NewLoader(st store.Store) *Loader {
	return &Loader{store: st}
}

// Load fetches and resolves the active catalog for a location. Rows whose
// write target cannot be resolved (bad dotted key, custom field without a CRM
// id) are skipped with a warning rather than failing the load; a partially
// broken catalog should not stop extraction for the fields that are fine.
func (l *Loader) Load(ctx context.Context, locationID string) (*Catalog, error) {
	if locationID == "" {
		return nil, eris.New("catalog: location id required")
	}

	fields, err := l.store.ListExtractionFields(ctx, locationID)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: load fields %s", locationID)
	}

	rules, err := l.store.ListContextualRules(ctx, locationID)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: load rules %s", locationID)
	}

	triggers, err := l.store.ListStopTriggers(ctx, locationID)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: load triggers %s", locationID)
	}

	return New(locationID, fields, rules, triggers), nil
}

// New builds a resolved Catalog from already-loaded rows, the same way Load
// does: rows whose write target cannot be resolved are dropped with a
// warning.
func New(locationID string, fields []model.ExtractionField, rules []model.ContextualRule, triggers []model.StopTrigger) *Catalog {
	c := &Catalog{
		LocationID: locationID,
		Rules:      rules,
		Triggers:   triggers,
		byKey:      make(map[string]*model.ExtractionField, len(fields)),
	}

	for i := range fields {
		f := fields[i]
		if !f.ResolveTarget() {
			zap.L().Warn("catalog: skipping unresolvable field",
				zap.String("location_id", locationID),
				zap.String("field_key", f.FieldKey),
				zap.String("field_id", f.ID),
			)
			continue
		}
		c.Fields = append(c.Fields, f)
	}
	for i := range c.Fields {
		c.byKey[c.Fields[i].FieldKey] = &c.Fields[i]
	}

	return c
}

// Field returns the resolved field for a key, or nil when the key is not in
// the catalog.
func (c *Catalog) Field(key string) *model.ExtractionField {
	return c.byKey[key]
}

// Empty reports whether the catalog has no extractable fields. An empty
// catalog renders a prompt but the caller skips the LLM call.
func (c *Catalog) Empty() bool {
	return len(c.Fields) == 0
}
