// Package httpapi exposes the dispatch console core over HTTP. Every /api
// request runs against the storage scoped to its X-Session-ID.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/dispatch-console/internal/dispatch"
	"github.com/example/dispatch-console/internal/geo"
	"github.com/example/dispatch-console/internal/ingest"
	"github.com/example/dispatch-console/internal/intake"
	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/storage"
	"github.com/example/dispatch-console/internal/viewsync"
)

type Options struct {
	// Store is the unscoped substrate shared by all sessions.
	Store  storage.KV
	Intake intake.Deps
	// Fleet receives driver telemetry posted to the internal endpoint.
	Fleet  geo.Upserter
	Kafka  *ingest.KafkaProducer
	WSReg  *dispatch.WSRegistry
	Logger *slog.Logger
	// Ready is checked by /healthz when set.
	Ready func(ctx context.Context) error
}

type Server struct {
	store  storage.KV
	deps   intake.Deps
	fleet  geo.Upserter
	kafka  *ingest.KafkaProducer
	wsreg  *dispatch.WSRegistry
	logger *slog.Logger
	ready  func(ctx context.Context) error
	mux    *mux.Router

	viewLocks viewsync.Stripes
}

func NewServer(o Options) *Server {
	logger := logging.OrDiscard(o.Logger)
	if o.WSReg == nil {
		o.WSReg = dispatch.NewWSRegistry(logger)
	}
	if o.Intake.Logger == nil {
		o.Intake.Logger = logger
	}
	s := &Server{
		store:  o.Store,
		deps:   o.Intake,
		fleet:  o.Fleet,
		kafka:  o.Kafka,
		wsreg:  o.WSReg,
		logger: logger,
		ready:  o.Ready,
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.sessionMiddleware)

	api.HandleFunc("/intake/service", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/intake/draft", s.handleResume).Methods(http.MethodGet)
	api.HandleFunc("/intake/draft", s.handleCancel).Methods(http.MethodDelete)
	api.HandleFunc("/intake/draft/fields", s.handleSaveProgress).Methods(http.MethodPatch)
	api.HandleFunc("/intake/details", s.handleSubmitDetails).Methods(http.MethodPost)
	api.HandleFunc("/intake/drivers", s.handleEvaluate).Methods(http.MethodGet)
	api.HandleFunc("/intake/driver", s.handleAssign).Methods(http.MethodPost)
	api.HandleFunc("/intake/confirm", s.handleConfirm).Methods(http.MethodPost)
	api.HandleFunc("/intake/requirements/{service}", s.handleRequirements).Methods(http.MethodGet)

	api.HandleFunc("/drafts", s.handleListDrafts).Methods(http.MethodGet)
	api.HandleFunc("/drafts", s.handleSaveDraft).Methods(http.MethodPost)
	api.HandleFunc("/drafts/{id}", s.handleDeleteDraft).Methods(http.MethodDelete)
	api.HandleFunc("/drafts/{id}/restore", s.handleRestoreDraft).Methods(http.MethodPost)

	api.HandleFunc("/bookings", s.handleBookings).Methods(http.MethodGet)

	api.HandleFunc("/views/{class}/read", s.handleReadIDs).Methods(http.MethodGet)
	api.HandleFunc("/views/{class}/read", s.handleResetRead).Methods(http.MethodDelete)
	api.HandleFunc("/views/{class}/read/{id}", s.handleMarkRead).Methods(http.MethodPost)
	api.HandleFunc("/views/{class}/status", s.handleStatuses).Methods(http.MethodGet)
	api.HandleFunc("/views/{class}/status/{id}", s.handleSetStatus).Methods(http.MethodPut)

	s.mux.HandleFunc("/internal/driver/telemetry", s.handleTelemetry).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/drivers/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) sessionStore(r *http.Request) storage.KV {
	return storage.Scoped(s.store, sessionFromContext(r.Context()))
}

func (s *Server) workflow(r *http.Request) *intake.Workflow {
	return intake.NewWorkflow(s.sessionStore(r), s.deps)
}

// viewRepo returns a view-sync repository for the request's session. Requests
// of one session serialize on that session's stripe.
func (s *Server) viewRepo(r *http.Request) *viewsync.Repository {
	id := sessionFromContext(r.Context())
	return viewsync.NewRepository(s.sessionStore(r), s.logger).WithLock(s.viewLocks.For(id))
}
