package herbal

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore reads the catalogue from PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) ListDiagnoses(ctx context.Context) ([]Diagnosis, error) {
	rows, err := s.db.QueryContext(ctx, `
		select index, diagnosis, replace(herbal_name, ', ', chr(10)), coalesce(latin_name,''),
		       coalesce(image_url,''), coalesce(preparation,''),
		       coalesce(source_label,''), coalesce(source,'')
		from herbal_diagnoses
		order by index
		limit $1`, listLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Diagnosis
	for rows.Next() {
		var d Diagnosis
		if err := rows.Scan(&d.ID, &d.Diagnosis, &d.HerbalName, &d.LatinName,
			&d.ImageURL, &d.Preparation, &d.SourceLabel, &d.Source); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) ListSymptoms(ctx context.Context) ([]Symptom, error) {
	rows, err := s.db.QueryContext(ctx, `
		select index, symptom, replace(herbal_name, ', ', chr(10)), coalesce(latin_name,''),
		       coalesce(image_url,''), coalesce(preparation,''),
		       coalesce(source_label,''), coalesce(source,'')
		from herbal_symptoms
		order by index
		limit $1`, listLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Symptom
	for rows.Next() {
		var sy Symptom
		if err := rows.Scan(&sy.ID, &sy.Symptom, &sy.HerbalName, &sy.LatinName,
			&sy.ImageURL, &sy.Preparation, &sy.SourceLabel, &sy.Source); err != nil {
			return nil, err
		}
		out = append(out, sy)
	}
	return out, rows.Err()
}

func (s *PGStore) ListSpecialConditions(ctx context.Context, filter ConditionFilter) ([]SpecialCondition, error) {
	rows, err := s.db.QueryContext(ctx, `
		select index, herbal_name, coalesce(latin_name,''), special_condition,
		       coalesce(description,''), coalesce(reference,'')
		from herbal_special_conditions
		where ($1 = '' or herbal_name ilike '%'||$1||'%')
		  and ($2 = '' or latin_name ilike '%'||$2||'%')
		  and ($3 = '' or special_condition ilike '%'||$3||'%')
		order by index`,
		filter.HerbalName, filter.LatinName, filter.Condition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SpecialCondition
	for rows.Next() {
		var c SpecialCondition
		if err := rows.Scan(&c.ID, &c.HerbalName, &c.LatinName, &c.Condition,
			&c.Description, &c.Reference); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
