// Package herbal serves the read-only remedy catalogue: herbal entries keyed
// by diagnosis, by symptom, and contraindication notes for special conditions
// (pregnancy, breastfeeding, children under five).
package herbal

import (
	"context"
	"strings"
)

// Diagnosis maps a medical diagnosis to a recommended herbal remedy.
type Diagnosis struct {
	ID          int    `json:"id"`
	Diagnosis   string `json:"diagnosis"`
	HerbalName  string `json:"herbal_name"`
	LatinName   string `json:"latin_name"`
	ImageURL    string `json:"image_url,omitempty"`
	Preparation string `json:"preparation,omitempty"`
	SourceLabel string `json:"source_label,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Symptom maps a symptom to a recommended herbal remedy.
type Symptom struct {
	ID          int    `json:"id"`
	Symptom     string `json:"symptom"`
	HerbalName  string `json:"herbal_name"`
	LatinName   string `json:"latin_name"`
	ImageURL    string `json:"image_url,omitempty"`
	Preparation string `json:"preparation,omitempty"`
	SourceLabel string `json:"source_label,omitempty"`
	Source      string `json:"source,omitempty"`
}

// SpecialCondition records a contraindication of a herbal for a patient group.
type SpecialCondition struct {
	ID          int    `json:"id"`
	HerbalName  string `json:"herbal_name"`
	LatinName   string `json:"latin_name"`
	Condition   string `json:"special_condition"`
	Description string `json:"description,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

// ConditionFilter narrows ListSpecialConditions. Empty fields match everything;
// non-empty fields match case-insensitive substrings.
type ConditionFilter struct {
	HerbalName string
	LatinName  string
	Condition  string
}

// Matches reports whether the entry passes every set filter field.
func (f ConditionFilter) Matches(c SpecialCondition) bool {
	return containsFold(c.HerbalName, f.HerbalName) &&
		containsFold(c.LatinName, f.LatinName) &&
		containsFold(c.Condition, f.Condition)
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// listLimit caps catalogue responses.
const listLimit = 50

// Store reads the catalogue.
type Store interface {
	ListDiagnoses(ctx context.Context) ([]Diagnosis, error)
	ListSymptoms(ctx context.Context) ([]Symptom, error)
	ListSpecialConditions(ctx context.Context, filter ConditionFilter) ([]SpecialCondition, error)
}

// FormatHerbalName turns the comma-separated stored name list into one herbal
// per line, the shape clients render.
func FormatHerbalName(name string) string {
	return strings.ReplaceAll(name, ", ", "\n")
}
