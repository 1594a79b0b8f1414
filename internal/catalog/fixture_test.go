package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadextract/internal/model"
)

const fixtureYAML = `location_id: loc-1
fields:
  - key: contact.first_name
    label: First Name
    type: text
    required: true
    overwrite_policy: always
  - key: contact.email
    label: Email
    type: email
  - key: plan_interest
    label: Plan Interest
    type: picklist
    options: [basic, premium]
    custom_field_id: cf-77
    instructions: Which plan tier the lead asked about.
rules:
  - Treat "the premium one" as plan_interest=premium.
triggers:
  - phrase: stop texting me
    action: opt_out
  - phrase: speak to a human
plan:
  company_id: comp-9
  billing_type: agency_sub
  monthly_quota: 250
  business_name: Acme Roofing
  business_context: Residential roofing company in Austin.
`

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFixture(t *testing.T) {
	fx, err := LoadFixture(writeFixture(t, fixtureYAML))
	require.NoError(t, err)

	assert.Equal(t, "loc-1", fx.LocationID)
	require.Len(t, fx.Fields, 3)
	assert.True(t, fx.Fields[0].Required)
	assert.Equal(t, []string{"basic", "premium"}, fx.Fields[2].Options)
	require.Len(t, fx.Triggers, 2)
	require.NotNil(t, fx.Plan)
	assert.Equal(t, 250, fx.Plan.MonthlyQuota)
}

func TestLoadFixture_MissingLocation(t *testing.T) {
	_, err := LoadFixture(writeFixture(t, "fields: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "location_id")
}

func TestFixtureToModels_Defaults(t *testing.T) {
	fx := &Fixture{
		LocationID: "loc-1",
		Fields: []FixtureField{
			{Key: "contact.city"}, // no type, no policy
		},
		Triggers: []FixtureStop{{Phrase: "stop"}},
	}

	fields, rules, triggers, plan := fx.ToModels()
	require.Len(t, fields, 1)
	assert.Equal(t, model.FieldTypeText, fields[0].FieldType)
	assert.Equal(t, model.OverwriteIfEmpty, fields[0].OverwritePolicy)
	assert.True(t, fields[0].Active)
	assert.Empty(t, rules)
	require.Len(t, triggers, 1)
	assert.Nil(t, plan)
}

func TestSeed_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	fx, err := LoadFixture(writeFixture(t, fixtureYAML))
	require.NoError(t, err)

	require.NoError(t, Seed(context.Background(), s, fx))

	c, err := NewLoader(s).Load(context.Background(), "loc-1")
	require.NoError(t, err)
	require.Len(t, c.Fields, 3)
	assert.True(t, c.Fields[0].Required)
	assert.False(t, c.Fields[1].Required)
	assert.Len(t, c.Rules, 1)
	assert.Len(t, c.Triggers, 2)
	// Fixture leaves the action blank; the store defaults it to escalate.
	actions := map[string]string{}
	for _, tr := range c.Triggers {
		actions[tr.Phrase] = tr.Action
	}
	assert.Equal(t, "opt_out", actions["stop texting me"])
	assert.Equal(t, "escalate", actions["speak to a human"])

	plan, err := s.GetLocationPlan(context.Background(), "loc-1")
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, model.BillingAgencySub, plan.BillingType)
	assert.Equal(t, 250, plan.MonthlyQuota)

	// Re-seeding is idempotent for fields (upsert) and replaces rules.
	require.NoError(t, Seed(context.Background(), s, fx))
	c2, err := NewLoader(s).Load(context.Background(), "loc-1")
	require.NoError(t, err)
	assert.Len(t, c2.Fields, 3)
	assert.Len(t, c2.Rules, 1)
}
