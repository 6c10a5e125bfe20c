package herbal

import (
	"context"
	"fmt"
	"testing"
)

func seededStore() *MemoryStore {
	s := NewMemoryStore()
	s.Load(
		[]Diagnosis{
			{ID: 1, Diagnosis: "Hipertensi", HerbalName: "Seledri, Bawang Putih", LatinName: "Apium graveolens"},
			{ID: 2, Diagnosis: "Diabetes", HerbalName: "Brotowali", LatinName: "Tinospora crispa"},
		},
		[]Symptom{
			{ID: 1, Symptom: "Batuk", HerbalName: "Jahe", LatinName: "Zingiber officinale"},
		},
		[]SpecialCondition{
			{ID: 1, HerbalName: "Kunyit", LatinName: "Curcuma longa", Condition: "Ibu Hamil"},
			{ID: 2, HerbalName: "Jahe", LatinName: "Zingiber officinale", Condition: "Ibu Menyusui"},
			{ID: 3, HerbalName: "Brotowali", LatinName: "Tinospora crispa", Condition: "Ibu Hamil"},
		},
	)
	return s
}

func TestFormatHerbalName(t *testing.T) {
	cases := map[string]string{
		"Seledri":               "Seledri",
		"Seledri, Bawang Putih": "Seledri\nBawang Putih",
		"A, B, C":               "A\nB\nC",
		"No,separator,here":     "No,separator,here",
		"":                      "",
	}
	for in, want := range cases {
		if got := FormatHerbalName(in); got != want {
			t.Errorf("FormatHerbalName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestListDiagnosesFormatsNames(t *testing.T) {
	s := seededStore()
	got, err := s.ListDiagnoses(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].HerbalName != "Seledri\nBawang Putih" {
		t.Fatalf("herbal name not reformatted: %q", got[0].HerbalName)
	}
}

func TestListDiagnosesDoesNotMutateStore(t *testing.T) {
	s := seededStore()
	if _, err := s.ListDiagnoses(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	// Second read still sees the stored comma form, not the rendered one.
	got, _ := s.ListDiagnoses(context.Background())
	if got[0].HerbalName != "Seledri\nBawang Putih" {
		t.Fatalf("second read: %q", got[0].HerbalName)
	}
}

func TestListCapsAtLimit(t *testing.T) {
	s := NewMemoryStore()
	var many []Symptom
	for i := 0; i < listLimit+10; i++ {
		many = append(many, Symptom{ID: i, Symptom: fmt.Sprintf("s%d", i), HerbalName: "Jahe"})
	}
	s.Load(nil, many, nil)

	got, err := s.ListSymptoms(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != listLimit {
		t.Fatalf("len = %d, want %d", len(got), listLimit)
	}
}

func TestListSpecialConditionsFilter(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	all, err := s.ListSpecialConditions(ctx, ConditionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unfiltered len = %d", len(all))
	}

	preg, _ := s.ListSpecialConditions(ctx, ConditionFilter{Condition: "hamil"})
	if len(preg) != 2 {
		t.Fatalf("condition filter len = %d", len(preg))
	}

	byName, _ := s.ListSpecialConditions(ctx, ConditionFilter{HerbalName: "KUNYIT"})
	if len(byName) != 1 || byName[0].ID != 1 {
		t.Fatalf("name filter: %+v", byName)
	}

	combined, _ := s.ListSpecialConditions(ctx, ConditionFilter{HerbalName: "Brotowali", Condition: "Hamil"})
	if len(combined) != 1 || combined[0].ID != 3 {
		t.Fatalf("combined filter: %+v", combined)
	}

	none, _ := s.ListSpecialConditions(ctx, ConditionFilter{LatinName: "nonexistent"})
	if len(none) != 0 {
		t.Fatalf("expected no matches, got %+v", none)
	}
}
