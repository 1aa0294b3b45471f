package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/dispatch-console/internal/bookings"
	"github.com/example/dispatch-console/internal/draft"
	"github.com/example/dispatch-console/internal/intake"
	"github.com/example/dispatch-console/internal/models"
	"github.com/example/dispatch-console/internal/observability"
	"github.com/example/dispatch-console/internal/storage"
	"github.com/example/dispatch-console/internal/viewsync"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string              `json:"error"`
	Fields []intake.FieldError `json:"fields,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *intake.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Fields: verr.Errors})
		return
	case errors.Is(err, intake.ErrUnknownService),
		errors.Is(err, intake.ErrUnknownDriver),
		errors.Is(err, viewsync.ErrInvalidStatus):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
		return
	case errors.Is(err, draft.ErrSavedDraftNotFound),
		errors.Is(err, viewsync.ErrUnknownClass),
		errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	case errors.Is(err, intake.ErrDriverExcluded),
		errors.Is(err, intake.ErrNotEvaluated),
		errors.Is(err, intake.ErrNoDriverSelected),
		errors.Is(err, intake.ErrInvalidTransition),
		errors.Is(err, intake.ErrTerminal),
		errors.Is(err, draft.ErrNoActiveDraft),
		errors.Is(err, draft.ErrServiceTypeLocked),
		errors.Is(err, viewsync.ErrTerminalStatus):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	}
	s.logger.Error("request_failed", "route", routeTemplate(r), "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceType models.ServiceType `json:"serviceType"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, err := s.workflow(r).Start(r.Context(), req.ServiceType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workflow(r).Resume(r.Context()))
}

func (s *Server) handleSaveProgress(w http.ResponseWriter, r *http.Request) {
	var fields models.Fields
	if !decode(w, r, &fields) {
		return
	}
	d, err := s.workflow(r).SaveProgress(r.Context(), fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleSubmitDetails(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fields models.Fields `json:"fields"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, err := s.workflow(r).SubmitDetails(r.Context(), req.Fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	a, err := s.workflow(r).Evaluate(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string `json:"driverId"`
		Override bool   `json:"override"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, err := s.workflow(r).AssignDriver(r.Context(), req.DriverID, req.Override)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	b, err := s.workflow(r).Confirm(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.workflow(r).Cancel(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequirements(w http.ResponseWriter, r *http.Request) {
	st, err := models.ParseServiceType(mux.Vars(r)["service"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"serviceType": st, "required": intake.Requirements(st)})
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workflow(r).Drafts().ListSavedDrafts(r.Context()))
}

func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	sd, err := s.workflow(r).Drafts().SaveNamedDraft(r.Context(), req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sd)
}

func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.workflow(r).Drafts().DeleteSavedDraft(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreDraft(w http.ResponseWriter, r *http.Request) {
	d, err := s.workflow(r).Drafts().RestoreSavedDraft(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request) {
	repo := bookings.New(s.sessionStore(r))
	if v := r.URL.Query().Get("serviceType"); v != "" {
		st, err := models.ParseServiceType(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, repo.ListByService(r.Context(), st))
		return
	}
	writeJSON(w, http.StatusOK, repo.List(r.Context()))
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var d models.DriverTelemetry
	if !decode(w, r, &d) {
		return
	}
	if d.ID == "" || d.BatteryPct < 0 || d.BatteryPct > 100 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "telemetry needs an id and batteryPct in 0..100"})
		return
	}
	if err := s.kafka.PublishTelemetry(r.Context(), d); err != nil {
		s.logger.Warn("telemetry_publish_failed", "driver_id", d.ID, "error", err)
	}
	if s.fleet != nil {
		if err := s.fleet.Upsert(r.Context(), d); err != nil {
			s.writeError(w, r, err)
			return
		}
		if c, ok := s.fleet.(interface{ Online() int }); ok {
			observability.DriversOnline.Set(float64(c.Online()))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

var upgrader = websocket.Upgrader{}

// handleWS keeps the driver session open until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", "driver_id", id, "error", err)
		return
	}
	s.wsreg.Add(id, conn)
	defer func() {
		s.wsreg.Remove(id, conn)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
