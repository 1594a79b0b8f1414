// Package merge diffs extracted values against the CRM contact and applies
// per-field overwrite policies, producing the minimal contact update. Write
// targets come from the resolved catalog; nothing here guesses from key
// shapes.
package merge

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadextract/internal/catalog"
	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/pkg/highlevel"
)

// Engine applies extractions to CRM contacts.
type Engine struct {
	crm highlevel.Client
}

// NewEngine creates a merge Engine.
func NewEngine(crm highlevel.Client) *Engine {
	return &Engine{crm: crm}
}

type candidate struct {
	field *model.ExtractionField
	value any
}

// Merge writes an extraction onto a contact. Empty values and policy-blocked
// fields are skipped and reported, never written; keys the catalog does not
// know are reported as unknown. When nothing survives, the CRM is not called
// at all and the outcome reports success with zero updates. A CRM rejection
// fails the whole attempt with the raw error body in the chain.
func (e *Engine) Merge(ctx context.Context, token, contactID string, ext *model.Extraction, cat *catalog.Catalog) (*model.MergeOutcome, error) {
	if contactID == "" {
		return nil, eris.New("merge: contact id required")
	}

	outcome := &model.MergeOutcome{ContactID: contactID}

	for key := range ext.Fields {
		if cat.Field(key) == nil {
			outcome.UnknownKeys = append(outcome.UnknownKeys, key)
		}
	}
	sort.Strings(outcome.UnknownKeys)
	if len(outcome.UnknownKeys) > 0 {
		zap.L().Warn("merge: model returned keys outside the catalog",
			zap.String("contact_id", contactID),
			zap.Strings("keys", outcome.UnknownKeys),
		)
	}

	// First pass needs no contact: drop empties and policy-never fields in
	// catalog order.
	var candidates []candidate
	for i := range cat.Fields {
		f := &cat.Fields[i]
		v, ok := ext.Fields[f.FieldKey]
		if !ok {
			continue
		}
		if emptyValue(v) {
			outcome.SkippedFields = append(outcome.SkippedFields, model.FieldSkip{FieldKey: f.FieldKey, Reason: "empty value"})
			continue
		}
		if f.OverwritePolicy == model.OverwriteNever {
			outcome.SkippedFields = append(outcome.SkippedFields, model.FieldSkip{FieldKey: f.FieldKey, Reason: "policy never"})
			continue
		}
		candidates = append(candidates, candidate{field: f, value: v})
	}

	if len(candidates) == 0 {
		return outcome, nil
	}

	contact, err := e.crm.GetContact(ctx, token, contactID)
	if err != nil {
		return nil, eris.Wrapf(err, "merge: fetch contact %s", contactID)
	}

	update := highlevel.ContactUpdate{}
	var customs []highlevel.CustomFieldValue

	for _, cand := range candidates {
		f, v := cand.field, cand.value

		switch f.Target.Kind {
		case model.TargetStandard:
			if f.IsTagField() {
				if f.OverwritePolicy == model.OverwriteIfEmpty && len(contact.Tags) > 0 {
					outcome.SkippedFields = append(outcome.SkippedFields, model.FieldSkip{FieldKey: f.FieldKey, Reason: "existing value"})
					continue
				}
				update["tags"] = unionTags(contact.Tags, v)
				outcome.UpdatedFields = append(outcome.UpdatedFields, f.FieldKey)
				continue
			}
			if f.OverwritePolicy == model.OverwriteIfEmpty && currentStandardValue(contact, f.Target.APIName) != "" {
				outcome.SkippedFields = append(outcome.SkippedFields, model.FieldSkip{FieldKey: f.FieldKey, Reason: "existing value"})
				continue
			}
			update[f.Target.APIName] = v
			outcome.UpdatedFields = append(outcome.UpdatedFields, f.FieldKey)

		case model.TargetCustom:
			if f.OverwritePolicy == model.OverwriteIfEmpty && !emptyValue(currentCustomValue(contact, f.Target.CustomFieldID)) {
				outcome.SkippedFields = append(outcome.SkippedFields, model.FieldSkip{FieldKey: f.FieldKey, Reason: "existing value"})
				continue
			}
			customs = append(customs, highlevel.CustomFieldValue{ID: f.Target.CustomFieldID, Value: v})
			outcome.UpdatedFields = append(outcome.UpdatedFields, f.FieldKey)
		}
	}

	if len(customs) > 0 {
		update["customFields"] = customs
	}

	if len(update) == 0 {
		return outcome, nil
	}

	if _, err := e.crm.UpdateContact(ctx, token, contactID, update); err != nil {
		return nil, eris.Wrapf(err, "merge: update contact %s", contactID)
	}
	outcome.SentPayload = true

	zap.L().Info("merge: contact updated",
		zap.String("contact_id", contactID),
		zap.Strings("updated", outcome.UpdatedFields),
		zap.Int("skipped", len(outcome.SkippedFields)),
	)
	return outcome, nil
}

// emptyValue reports whether an extracted value counts as absent. Numbers
// and booleans are never empty.
func emptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	default:
		return false
	}
}

// unionTags merges new tags into the contact's existing set, deduplicating
// case-insensitively while keeping first-seen spelling and order.
func unionTags(existing []string, v any) []string {
	merged := make([]string, 0, len(existing)+4)
	seen := make(map[string]bool, len(existing))
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		merged = append(merged, tag)
	}
	for _, t := range existing {
		add(t)
	}
	for _, t := range toStringSlice(v) {
		add(t)
	}
	return merged
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// currentStandardValue reads the contact's current value for a standard API
// property, for if_empty policy checks. Unknown properties read as empty, so
// if_empty falls through to writing.
func currentStandardValue(c *highlevel.Contact, apiName string) string {
	switch apiName {
	case "name":
		return c.Name
	case "firstName":
		return c.FirstName
	case "lastName":
		return c.LastName
	case "email":
		return c.Email
	case "phone":
		return c.Phone
	case "dateOfBirth":
		return c.DateOfBirth
	case "address1":
		return c.Address1
	case "city":
		return c.City
	case "state":
		return c.State
	case "country":
		return c.Country
	case "postalCode":
		return c.PostalCode
	case "companyName":
		return c.CompanyName
	case "website":
		return c.Website
	case "timezone":
		return c.Timezone
	case "source":
		return c.Source
	case "dnd":
		if c.DND {
			return "true"
		}
		return ""
	default:
		return ""
	}
}

// currentCustomValue reads the contact's current value for a custom field id,
// nil when the contact has no value for it.
func currentCustomValue(c *highlevel.Contact, customFieldID string) any {
	for _, cf := range c.CustomFields {
		if cf.ID == customFieldID {
			return cf.Value
		}
	}
	return nil
}
