package catalog

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/store"
)

// Fixture is a YAML description of one location's extraction catalog, used
// to seed the store for onboarding and tests.
type Fixture struct {
	LocationID string         `yaml:"location_id"`
	Fields     []FixtureField `yaml:"fields"`
	Rules      []string       `yaml:"rules,omitempty"`
	Triggers   []FixtureStop  `yaml:"triggers,omitempty"`
	Plan       *FixturePlan   `yaml:"plan,omitempty"`
}

// FixtureField is one catalog field in fixture form.
type FixtureField struct {
	Key             string   `yaml:"key"`
	Label           string   `yaml:"label,omitempty"`
	Type            string   `yaml:"type,omitempty"`
	Options         []string `yaml:"options,omitempty"`
	Required        bool     `yaml:"required,omitempty"`
	OverwritePolicy string   `yaml:"overwrite_policy,omitempty"`
	Instructions    string   `yaml:"instructions,omitempty"`
	CustomFieldID   string   `yaml:"custom_field_id,omitempty"`
}

// FixtureStop is one escalation trigger in fixture form.
type FixtureStop struct {
	Phrase string `yaml:"phrase"`
	Action string `yaml:"action,omitempty"`
}

// FixturePlan seeds the location's plan row alongside the catalog.
type FixturePlan struct {
	CompanyID       string `yaml:"company_id,omitempty"`
	BillingType     string `yaml:"billing_type,omitempty"`
	MonthlyQuota    int    `yaml:"monthly_quota,omitempty"`
	BusinessName    string `yaml:"business_name,omitempty"`
	BusinessContext string `yaml:"business_context,omitempty"`
}

// LoadFixture reads a catalog fixture from a YAML file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read fixture %s", path)
	}

	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, eris.Wrap(err, "catalog: parse fixture")
	}
	if fx.LocationID == "" {
		return nil, eris.New("catalog: fixture missing location_id")
	}

	return &fx, nil
}

// ToModels converts the fixture into store rows, applying defaults: type
// text, policy if_empty, sort order following file order.
func (fx *Fixture) ToModels() ([]model.ExtractionField, []model.ContextualRule, []model.StopTrigger, *model.LocationPlan) {
	fields := make([]model.ExtractionField, 0, len(fx.Fields))
	for i, f := range fx.Fields {
		ft := model.FieldType(f.Type)
		if ft == "" {
			ft = model.FieldTypeText
		}
		policy := model.OverwritePolicy(f.OverwritePolicy)
		if policy == "" {
			policy = model.OverwriteIfEmpty
		}
		fields = append(fields, model.ExtractionField{
			LocationID:      fx.LocationID,
			FieldKey:        f.Key,
			Label:           f.Label,
			FieldType:       ft,
			PicklistOptions: f.Options,
			Required:        f.Required,
			OverwritePolicy: policy,
			SortOrder:       i,
			Instructions:    f.Instructions,
			CustomFieldID:   f.CustomFieldID,
			Active:          true,
		})
	}

	rules := make([]model.ContextualRule, 0, len(fx.Rules))
	for i, r := range fx.Rules {
		rules = append(rules, model.ContextualRule{
			LocationID: fx.LocationID,
			Rule:       r,
			SortOrder:  i,
			Active:     true,
		})
	}

	triggers := make([]model.StopTrigger, 0, len(fx.Triggers))
	for _, tr := range fx.Triggers {
		triggers = append(triggers, model.StopTrigger{
			LocationID: fx.LocationID,
			Phrase:     tr.Phrase,
			Action:     tr.Action,
			Active:     true,
		})
	}

	var plan *model.LocationPlan
	if fx.Plan != nil {
		bt := model.BillingType(fx.Plan.BillingType)
		if bt == "" {
			bt = model.BillingDirect
		}
		plan = &model.LocationPlan{
			LocationID:      fx.LocationID,
			CompanyID:       fx.Plan.CompanyID,
			BillingType:     bt,
			MonthlyQuota:    fx.Plan.MonthlyQuota,
			BusinessName:    fx.Plan.BusinessName,
			BusinessContext: fx.Plan.BusinessContext,
		}
	}

	return fields, rules, triggers, plan
}

// Seed writes the fixture into the store: fields are upserted by key, rules
// and triggers replace the location's existing sets, and the plan row is
// upserted when present.
func Seed(ctx context.Context, st store.Store, fx *Fixture) error {
	fields, rules, triggers, plan := fx.ToModels()

	n, err := st.SeedExtractionFields(ctx, fields)
	if err != nil {
		return eris.Wrapf(err, "catalog: seed fields %s", fx.LocationID)
	}

	rn, err := st.SeedContextualRules(ctx, fx.LocationID, rules)
	if err != nil {
		return eris.Wrapf(err, "catalog: seed rules %s", fx.LocationID)
	}

	tn, err := st.SeedStopTriggers(ctx, fx.LocationID, triggers)
	if err != nil {
		return eris.Wrapf(err, "catalog: seed triggers %s", fx.LocationID)
	}

	if plan != nil {
		if err := st.UpsertLocationPlan(ctx, plan); err != nil {
			return eris.Wrapf(err, "catalog: seed plan %s", fx.LocationID)
		}
	}

	zap.L().Info("catalog: fixture seeded",
		zap.String("location_id", fx.LocationID),
		zap.Int64("fields", n),
		zap.Int64("rules", rn),
		zap.Int64("triggers", tn),
	)
	return nil
}
