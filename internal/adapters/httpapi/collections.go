package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"tutordesk/internal/core"
	"tutordesk/internal/state"
	"tutordesk/pkg/domain"
)

// lister produces a list response body for one collection.
type lister func(r *http.Request) (map[string]any, error)

func mountCollection[T domain.Record](r chi.Router, c *core.Collection[T], list lister) {
	if list == nil {
		list = func(*http.Request) (map[string]any, error) {
			records, err := c.List()
			if err != nil {
				return nil, err
			}
			if records == nil {
				records = []T{}
			}
			return map[string]any{c.Name(): records}, nil
		}
	}
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		body, err := list(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, body)
	})
	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		var record T
		if !decode(w, req, &record) {
			return
		}
		created, err := c.Create(req.Context(), record)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})
	r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
		record, err := c.Get(chi.URLParam(req, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	})
	r.Patch("/{id}", func(w http.ResponseWriter, req *http.Request) {
		var patch domain.Patch
		if !decode(w, req, &patch) {
			return
		}
		updated, err := c.Update(req.Context(), chi.URLParam(req, "id"), patch)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	})
	r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
		if err := c.Delete(req.Context(), chi.URLParam(req, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// listStudents applies the search, status and group query parameters when any
// is given, and the store's student filter otherwise.
func (s *Server) listStudents(r *http.Request) (map[string]any, error) {
	var (
		students []domain.Student
		err      error
	)
	if q := r.URL.Query(); q.Has("search") || q.Has("status") || q.Has("group") {
		students, err = s.svc.Students().List()
		students = state.FilterStudents(students, state.StudentFilter{
			Search:  q.Get("search"),
			Status:  q.Get("status"),
			GroupID: q.Get("group"),
		})
	} else {
		students, err = s.svc.FilteredStudents()
	}
	if err != nil {
		return nil, err
	}
	if students == nil {
		students = []domain.Student{}
	}
	return map[string]any{
		domain.CollectionStudents: students,
		"groupNames":              s.svc.GroupNames(students),
	}, nil
}

// listPayments applies the status query parameter when given, and the store's
// payment filter otherwise.
func (s *Server) listPayments(r *http.Request) (map[string]any, error) {
	var (
		payments []domain.Payment
		err      error
	)
	if q := r.URL.Query(); q.Has("status") {
		payments, err = s.svc.Payments().List()
		payments = state.FilterPayments(payments, state.PaymentStatusFilter(q.Get("status")))
	} else {
		payments, err = s.svc.FilteredPayments()
	}
	if err != nil {
		return nil, err
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	return map[string]any{domain.CollectionPayments: payments}, nil
}
