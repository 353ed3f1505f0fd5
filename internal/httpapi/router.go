/*
Copyright 2026 The tac-webbuilder Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package httpapi is the HTTP boundary for §6: /submit, /phase-complete,
// /events, and the /admin/* surface, mounted on two chi routers: Router
// for the public routes and AdminRouter for /admin/* (§11's
// chi.NewRouter() + router.Use(...) grounding). CompletionIngress
// itself lives in internal/ingress and is mounted here as a plain
// http.Handler.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/apperr"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/broadcaster"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/metrics"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

// AdmissionTrigger lets /submit ask the admission controller to consider
// launching the feature's zero-dependency phases immediately, without
// waiting for the next unrelated trigger.
type AdmissionTrigger interface {
	Consider(ctx context.Context)
}

// Phases is the PhaseStore surface httpapi needs: inserting a
// newly-submitted feature's phases and reading status counts for
// /admin/state and the /events snapshot.
type Phases interface {
	InsertPhases(ctx context.Context, featureID int64, phases []model.NewPhaseInput) ([]string, error)
	CountByStatus(ctx context.Context, status model.PhaseStatus) (int, error)
}

// Deps bundles every collaborator the router wires in. CORSOrigins
// configures github.com/go-chi/cors for the UI's /events origin;
// AdminToken gates every /admin/* route.
type Deps struct {
	Features    FeatureCreator
	Phases      Phases
	Admission   AdmissionTrigger
	Coordinator CoordinatorAdmin
	Limits      Limits
	Broadcaster   Subscribable
	Ingress       http.Handler
	Metrics       *metrics.Metrics
	TicketBreaker TicketBreaker
	CORSOrigins   []string
	AdminToken    string
	Log           *zap.Logger
}

// API holds the dependencies every handler method closes over.
type API struct {
	features    FeatureCreator
	phases      Phases
	admission   AdmissionTrigger
	coordinator CoordinatorAdmin
	limits      Limits
	broadcaster   Subscribable
	ingress       http.Handler
	metrics       *metrics.Metrics
	ticketBreaker TicketBreaker
	corsOrigins   []string
	adminToken    string
	log           *zap.Logger
}

// New builds the API from deps.
func New(deps Deps) *API {
	return &API{
		features:      deps.Features,
		phases:        deps.Phases,
		admission:     deps.Admission,
		coordinator:   deps.Coordinator,
		limits:        deps.Limits,
		broadcaster:   deps.Broadcaster,
		ingress:       deps.Ingress,
		metrics:       deps.Metrics,
		ticketBreaker: deps.TicketBreaker,
		corsOrigins:   deps.CORSOrigins,
		adminToken:    deps.AdminToken,
		log:           deps.Log,
	}
}

func (a *API) baseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.requestLogger)
	r.Use(a.httpMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH"},
		AllowedHeaders:   []string{"Content-Type", "X-Signature", "X-Admin-Token"},
		AllowCredentials: true,
	}))
	return r
}

// Router assembles the public chi.Mux (§6.1-§6.3): /submit,
// /phase-complete, /events, and /metrics. It is meant for
// cfg.Server.ListenAddr.
func (a *API) Router() *chi.Mux {
	r := a.baseRouter()

	r.Post("/submit", a.handleSubmit)
	r.Post("/phase-complete", a.ingress.ServeHTTP)
	r.Get("/events", a.handleEvents)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler())
	}

	return r
}

// AdminRouter assembles the §6.4 admin surface on its own mux, so it can
// be bound to cfg.Server.AdminAddr — a separate listener, usually not
// exposed past the cluster boundary.
func (a *API) AdminRouter() *chi.Mux {
	r := a.baseRouter()
	r.Use(a.adminAuth)

	r.Post("/admin/pause", a.handlePause)
	r.Post("/admin/resume", a.handleResume)
	r.Patch("/admin/config", a.handleUpdateConfig)
	r.Get("/admin/state", a.handleAdminState)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler())
	}

	return r
}

// requestLogger logs method, path, status, and latency for every
// request, keyed the same way as the teacher's gatewayMiddleware.HTTPMetrics
// pairing of a logging and a metrics middleware.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// httpMetrics records request counts and latency per route, nil-safe
// like the teacher's HTTPMetrics middleware.
func (a *API) httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		status := statusClass(ww.Status())
		a.metrics.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
		a.metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= 500 {
		a.log.Error("request failed", zap.Error(err))
	}

	var msg string
	switch kind {
	case apperr.Unauthorized, apperr.SignatureRejected:
		msg = "unauthorized"
	case apperr.NotFound:
		msg = "not found"
	case apperr.Conflict:
		msg = "conflict"
	case apperr.InvalidSubmission:
		msg = err.Error()
	default:
		msg = "internal error"
	}
	a.writeJSON(w, status, map[string]string{"error": msg})
}
