package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hubrelay/internal/automation"
)

// TriggerView is one registered trigger as listed by /debug/triggers.
type TriggerView struct {
	Category     string         `json:"category"`
	Key          string         `json:"key"`
	Name         string         `json:"name"`
	AcceptsEvent bool           `json:"accepts_event"`
	Filters      map[string]any `json:"filters,omitempty"`
}

// ListTriggers flattens src in category display order. An empty category
// lists all.
func ListTriggers(src automation.Source, category automation.Category) []TriggerView {
	cats := automation.AllCategories()
	if category != "" {
		cats = []automation.Category{category}
	}
	out := []TriggerView{}
	for _, c := range cats {
		for _, e := range src.Entries(c) {
			v := TriggerView{
				Category:     string(e.Category),
				Key:          e.Key,
				Name:         e.Name(),
				AcceptsEvent: e.Handler.AcceptsEvent(),
			}
			if f := e.Filters(); len(f) > 0 {
				v.Filters = f
			}
			out = append(out, v)
		}
	}
	return out
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	cat := automation.Category(chi.URLParam(r, "category"))
	if cat != "" && !validCategory(cat) {
		errNotFound.write(w, "unknown trigger category")
		return
	}
	list := ListTriggers(s.triggers, cat)
	writeJSON(w, http.StatusOK, map[string]any{
		"triggers": list,
		"count":    len(list),
	})
}

func validCategory(c automation.Category) bool {
	for _, known := range automation.AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}
