package httpapi

import (
	"net/http"

	"herbalyze.org/internal/herbal"
)

func (a *API) handleDiagnoses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	items, err := a.herbals.ListDiagnoses(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []herbal.Diagnosis{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleSymptoms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	items, err := a.herbals.ListSymptoms(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []herbal.Symptom{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleSpecialConditions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	filter := herbal.ConditionFilter{
		HerbalName: q.Get("herbal_name"),
		LatinName:  q.Get("latin_name"),
		Condition:  q.Get("condition"),
	}
	items, err := a.herbals.ListSpecialConditions(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []herbal.SpecialCondition{}
	}
	writeJSON(w, http.StatusOK, items)
}
