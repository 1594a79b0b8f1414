// Package prompt renders the per-location instruction document sent to the
// LLM as the system prompt: business context, the field catalog with
// type-specific guidance, location rules, escalation triggers, and a strict
// JSON output contract with a worked example.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/leadextract/internal/catalog"
	"github.com/sells-group/leadextract/internal/model"
)

// preamble opens every rendered document. The warning about instruction text
// matters: example values below are illustrative and must never surface as
// extracted data.
const preamble = `You are a data-extraction assistant reviewing a customer conversation for a
business. Read the full transcript and extract the fields listed below.

Only report values the conversation itself establishes. Never invent values,
never infer beyond what is stated, and never copy example values from these
instructions into your answer.`

// Document is the rendered system instruction plus the field manifest the
// response is expected to cover.
type Document struct {
	System string   // full rendered instruction document
	Keys   []string // field keys the output contract names, in catalog order
	Empty  bool     // no active fields; callers skip the LLM
}

// Build renders the instruction document for a catalog. It is pure: the
// catalog is already loaded and resolved, so rendering cannot fail. A catalog
// with zero fields still renders (business context and all) but is flagged
// Empty so the caller skips the LLM call.
func Build(cat *catalog.Catalog, plan *model.LocationPlan) *Document {
	doc := &Document{}

	var b strings.Builder
	b.WriteString(preamble)

	if block := formatBusinessContext(plan); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}

	if cat.Empty() {
		doc.Empty = true
		doc.System = b.String()
		return doc
	}

	b.WriteString("\n\n")
	b.WriteString(formatFields(cat.Fields))

	if block := formatRules(cat.Rules); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}

	withEscalate := len(cat.Triggers) > 0
	if block := formatTriggers(cat.Triggers); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}

	b.WriteString("\n\n")
	b.WriteString(outputContract(cat.Fields, withEscalate))

	doc.System = b.String()
	for i := range cat.Fields {
		doc.Keys = append(doc.Keys, cat.Fields[i].FieldKey)
	}
	return doc
}

// formatBusinessContext renders the business identity block from the
// location's plan. Returns "" when the plan carries nothing to say.
func formatBusinessContext(plan *model.LocationPlan) string {
	if plan == nil || (plan.BusinessName == "" && plan.BusinessContext == "") {
		return ""
	}
	var b strings.Builder
	b.WriteString("--- Business Context ---\n")
	if plan.BusinessName != "" {
		b.WriteString("Business: " + plan.BusinessName + "\n")
	}
	if plan.BusinessContext != "" {
		b.WriteString(plan.BusinessContext + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatFields(fields []model.ExtractionField) string {
	var b strings.Builder
	b.WriteString("--- Fields to Extract ---\n")
	for i := range fields {
		f := &fields[i]
		label := f.Label
		if label == "" {
			label = f.FieldKey
		}
		fmt.Fprintf(&b, "%d. %s (key %q, type %s", i+1, label, f.FieldKey, f.FieldType)
		if f.Required {
			b.WriteString(", required")
		}
		b.WriteString(")\n")
		if f.Instructions != "" {
			b.WriteString("   " + f.Instructions + "\n")
		}
		b.WriteString("   " + typeGuidance(f.FieldType) + "\n")
		if line := optionsLine(f); line != "" {
			b.WriteString("   " + line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// typeGuidance is the fixed formatting instruction per field type.
func typeGuidance(ft model.FieldType) string {
	switch ft {
	case model.FieldTypeNumber:
		return "Return a bare number, no units or thousands separators."
	case model.FieldTypeDate:
		return "Return the date as YYYY-MM-DD."
	case model.FieldTypePhone:
		return "Return the phone number in E.164 form when the country code is known, otherwise the digits as given."
	case model.FieldTypeEmail:
		return "Return the email address exactly as written in the conversation."
	case model.FieldTypePicklist:
		return "Return exactly one of the allowed values, or null if none fits."
	case model.FieldTypeMultiSelect:
		return "Return a JSON array of allowed values, or null if none apply."
	default:
		return "Return the value as a short plain-text string."
	}
}

// optionsLine renders the closed option set for choice fields, verbatim. The
// model must select from these exact strings; anything else fails the merge.
func optionsLine(f *model.ExtractionField) string {
	if len(f.PicklistOptions) == 0 {
		return ""
	}
	quoted := make([]string, len(f.PicklistOptions))
	for i, opt := range f.PicklistOptions {
		quoted[i] = fmt.Sprintf("%q", opt)
	}
	if f.FieldType == model.FieldTypeMultiSelect {
		return "Allowed values (any that apply, verbatim): " + strings.Join(quoted, ", ")
	}
	return "Allowed values (exactly one, verbatim): " + strings.Join(quoted, ", ")
}

func formatRules(rules []model.ContextualRule) string {
	if len(rules) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("--- Location Rules ---\n")
	b.WriteString("Apply these interpretation rules when reading the conversation:\n")
	for _, r := range rules {
		b.WriteString("- " + r.Rule + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTriggers(triggers []model.StopTrigger) string {
	if len(triggers) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("--- Escalation Triggers ---\n")
	b.WriteString("If the customer says anything matching a scenario below, set \"escalate\" to\ntrue in your response and name the trigger in \"notes\":\n")
	for _, tr := range triggers {
		fmt.Fprintf(&b, "- %q -> %s\n", tr.Phrase, handoffPhrase(tr.Action))
	}
	return strings.TrimRight(b.String(), "\n")
}

// handoffPhrase maps a trigger action to the human-handoff wording rendered
// in the document.
func handoffPhrase(action string) string {
	switch action {
	case "opt_out":
		return "stop: the contact is opting out; a person must confirm removal before any further outreach"
	default:
		return "hand off: a team member needs to take over this conversation personally"
	}
}

func outputContract(fields []model.ExtractionField, withEscalate bool) string {
	var b strings.Builder
	b.WriteString("--- Output Contract ---\n")
	b.WriteString("Respond with a single JSON object and nothing else: no markdown fences, no\n")
	b.WriteString("prose before or after it. One key per field key listed above, spelled\n")
	b.WriteString("exactly as shown. Use null for any field the conversation does not\n")
	b.WriteString("establish. Always include \"extraction_confidence\" (overall confidence,\n")
	b.WriteString("0.0 to 1.0) and \"notes\" (brief observations, \"\" if none).")
	if withEscalate {
		b.WriteString("\nInclude \"escalate\": true only when an escalation trigger fired.")
	}
	b.WriteString("\n\nExample response (values illustrative):\n")
	b.WriteString(renderExample(fields, withEscalate))
	return b.String()
}

// renderExample builds the worked example by hand rather than through
// json.Marshal of a map, so keys keep catalog order. When there is more than
// one field the last key is rendered null to show the absent-value shape.
func renderExample(fields []model.ExtractionField, withEscalate bool) string {
	var b strings.Builder
	b.WriteString("{\n")
	for i := range fields {
		f := &fields[i]
		var v any
		if i < len(fields)-1 || len(fields) == 1 {
			v = exampleValue(f)
		}
		key, _ := json.Marshal(f.FieldKey)
		raw, _ := json.Marshal(v)
		fmt.Fprintf(&b, "  %s: %s,\n", key, raw)
	}
	if withEscalate {
		b.WriteString("  \"escalate\": false,\n")
	}
	b.WriteString("  \"extraction_confidence\": 0.9,\n")
	b.WriteString("  \"notes\": \"\"\n}")
	return b.String()
}

// exampleValue picks a type-appropriate sample for the worked example. For
// choice fields the first allowed option is used so the example reinforces
// the closed set.
func exampleValue(f *model.ExtractionField) any {
	switch f.FieldType {
	case model.FieldTypeNumber:
		return 42
	case model.FieldTypeDate:
		return "2025-03-14"
	case model.FieldTypePhone:
		return "+15125550143"
	case model.FieldTypeEmail:
		return "alex@example.com"
	case model.FieldTypePicklist:
		if len(f.PicklistOptions) > 0 {
			return f.PicklistOptions[0]
		}
		return "option"
	case model.FieldTypeMultiSelect:
		if len(f.PicklistOptions) > 0 {
			return f.PicklistOptions[:1]
		}
		return []string{"option"}
	default:
		return "example value"
	}
}
