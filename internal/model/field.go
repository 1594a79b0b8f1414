package model

import (
	"strings"
)

// FieldType describes the value shape an extraction field expects.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeNumber      FieldType = "number"
	FieldTypeDate        FieldType = "date"
	FieldTypePhone       FieldType = "phone"
	FieldTypeEmail       FieldType = "email"
	FieldTypePicklist    FieldType = "picklist"
	FieldTypeMultiSelect FieldType = "multi_select"
)

// OverwritePolicy controls whether an extracted value may replace an
// existing contact value.
type OverwritePolicy string

const (
	OverwriteAlways  OverwritePolicy = "always"
	OverwriteIfEmpty OverwritePolicy = "if_empty"
	OverwriteNever   OverwritePolicy = "never"
)

// TargetKind tags which side of the contact schema a field writes to.
type TargetKind string

const (
	TargetStandard TargetKind = "standard"
	TargetCustom   TargetKind = "custom"
)

// FieldTarget is the resolved write destination for an extraction field.
// Exactly one of APIName or CustomFieldID is set, per Kind. Targets are
// resolved once at catalog load; nothing downstream inspects key shapes.
type FieldTarget struct {
	Kind          TargetKind `json:"kind"`
	APIName       string     `json:"api_name,omitempty"`        // standard contact property, e.g. "firstName"
	CustomFieldID string     `json:"custom_field_id,omitempty"` // CRM custom field id
}

// ExtractionField is one catalog entry: a field the LLM should extract for a
// location, with its prompt instructions and write policy. The catalog is
// owned by configuration; this service only reads it.
type ExtractionField struct {
	ID              string          `json:"id"`
	LocationID      string          `json:"location_id"`
	FieldKey        string          `json:"field_key"` // dotted = standard target, opaque = custom
	Label           string          `json:"label"`
	FieldType       FieldType       `json:"field_type"`
	PicklistOptions []string        `json:"picklist_options,omitempty"`
	Required        bool            `json:"required"` // the model is pushed harder to find a value
	OverwritePolicy OverwritePolicy `json:"overwrite_policy"`
	SortOrder       int             `json:"sort_order"`
	Instructions    string          `json:"instructions,omitempty"`
	CustomFieldID   string          `json:"custom_field_id,omitempty"` // CRM id for custom targets
	Active          bool            `json:"active"`
	Target          FieldTarget     `json:"target"` // populated by ResolveTarget at load
}

// standardFieldNames is the fixed translation from catalog key names to the
// CRM contact API property. Both snake and camel spellings appear in the
// wild, so camel spellings of known properties pass through unchanged.
var standardFieldNames = map[string]string{
	"first_name":    "firstName",
	"last_name":     "lastName",
	"name":          "name",
	"email":         "email",
	"phone":         "phone",
	"address":       "address1",
	"address1":      "address1",
	"city":          "city",
	"state":         "state",
	"country":       "country",
	"postal_code":   "postalCode",
	"company_name":  "companyName",
	"website":       "website",
	"date_of_birth": "dateOfBirth",
	"timezone":      "timezone",
	"source":        "source",
	"dnd":           "dnd",
	"tags":          "tags",
}

// standardAPINames is the reverse index of legal API property names.
var standardAPINames = map[string]bool{}

func init() {
	for _, api := range standardFieldNames {
		standardAPINames[api] = true
	}
}

// ResolveTarget classifies the field once, from catalog data. A dotted key
// ("contact.first_name") names a standard contact property translated through
// the fixed name map; anything else is a custom field and must carry the CRM
// custom-field id. Returns false when the key cannot be resolved, in which
// case the field is skipped and reported, never guessed at.
func (f *ExtractionField) ResolveTarget() bool {
	if strings.Contains(f.FieldKey, ".") {
		parts := strings.SplitN(f.FieldKey, ".", 2)
		if parts[0] != "contact" || parts[1] == "" {
			return false
		}
		name := parts[1]
		if api, ok := standardFieldNames[name]; ok {
			f.Target = FieldTarget{Kind: TargetStandard, APIName: api}
			return true
		}
		if standardAPINames[name] {
			f.Target = FieldTarget{Kind: TargetStandard, APIName: name}
			return true
		}
		return false
	}

	if f.CustomFieldID == "" {
		return false
	}
	f.Target = FieldTarget{Kind: TargetCustom, CustomFieldID: f.CustomFieldID}
	return true
}

// IsTagField reports whether the field writes to the contact tag list, which
// merges set-union instead of overwriting.
func (f *ExtractionField) IsTagField() bool {
	return f.Target.Kind == TargetStandard && f.Target.APIName == "tags"
}

// ContextualRule is a location-scoped instruction injected into the prompt,
// e.g. "treat 'the premium one' as plan_interest=premium".
type ContextualRule struct {
	ID         string `json:"id"`
	LocationID string `json:"location_id"`
	Rule       string `json:"rule"`
	SortOrder  int    `json:"sort_order"`
	Active     bool   `json:"active"`
}

// StopTrigger is a phrase that must make the model flag the conversation for
// escalation instead of extracting, e.g. "stop texting me".
type StopTrigger struct {
	ID         string `json:"id"`
	LocationID string `json:"location_id"`
	Phrase     string `json:"phrase"`
	Action     string `json:"action,omitempty"` // e.g. "escalate", "opt_out"
	Active     bool   `json:"active"`
}
