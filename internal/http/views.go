package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/dispatch-console/internal/models"
	"github.com/example/dispatch-console/internal/viewsync"
)

func (s *Server) viewClass(w http.ResponseWriter, r *http.Request) (viewsync.EntityClass, bool) {
	class, err := viewsync.ParseClass(mux.Vars(r)["class"])
	if err != nil {
		s.writeError(w, r, err)
		return "", false
	}
	return class, true
}

func (s *Server) handleReadIDs(w http.ResponseWriter, r *http.Request) {
	class, ok := s.viewClass(w, r)
	if !ok {
		return
	}
	v := viewsync.NewReadView(s.viewRepo(r), class)
	if err := v.Refresh(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"class": class, "ids": v.ReadIDs()})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	class, ok := s.viewClass(w, r)
	if !ok {
		return
	}
	v := viewsync.NewReadView(s.viewRepo(r), class)
	if err := v.MarkRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetRead(w http.ResponseWriter, r *http.Request) {
	class, ok := s.viewClass(w, r)
	if !ok {
		return
	}
	if err := viewsync.NewReadView(s.viewRepo(r), class).Reset(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatuses(w http.ResponseWriter, r *http.Request) {
	class, ok := s.viewClass(w, r)
	if !ok {
		return
	}
	v := viewsync.NewStatusView(s.viewRepo(r), class)
	if err := v.Refresh(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Statuses())
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	class, ok := s.viewClass(w, r)
	if !ok {
		return
	}
	var req struct {
		Status models.CaseStatus `json:"status"`
		Reset  bool              `json:"reset"`
	}
	if !decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	v := viewsync.NewStatusView(s.viewRepo(r), class)
	if err := v.SetStatus(r.Context(), id, req.Status, req.Reset); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, _ := v.GetStatus(id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": st})
}
