// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server is the HTTP adapter over the analysis workflow. It converts
// request bodies into Analyze calls, fills in a country code when the request
// does not carry one (client IP geolocation, then the configured default),
// and maps workflow errors onto HTTP status codes. It holds no state of its
// own beyond the listener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/consult"
	"github.com/kadirpekel/consult/pkg/clinical"
	"github.com/kadirpekel/consult/pkg/config"
	"github.com/kadirpekel/consult/pkg/fleet"
	"github.com/kadirpekel/consult/pkg/geo"
	"github.com/kadirpekel/consult/pkg/region"
)

// StatusClientClosedRequest is the nginx convention for a request the client
// abandoned before the response was ready.
const StatusClientClosedRequest = 499

// Analyzer runs one clinical analysis. *workflow.Orchestrator satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, scenario, countryCode, patientID string) (*clinical.Report, error)
}

// Server is the HTTP adapter.
type Server struct {
	cfg            config.ServerConfig
	analyzer       Analyzer
	resolver       geo.Resolver
	defaultCountry string
	httpServer     *http.Server
}

// New builds a server from the root config. When geo lookup is enabled the
// server resolves the client IP of requests that omit a country code;
// otherwise those requests fall straight through to the workflow default.
func New(cfg *config.Config, analyzer Analyzer) *Server {
	s := &Server{
		cfg:            cfg.Server,
		analyzer:       analyzer,
		defaultCountry: cfg.Workflow.DefaultCountry,
	}
	if cfg.Geo.Enabled {
		s.resolver = geo.NewHTTPResolver(geo.Config{
			Endpoint: cfg.Geo.Endpoint,
			Timeout:  cfg.Geo.Timeout,
		})
	}
	return s
}

// SetGeoResolver replaces the country resolver. Tests inject a geo.Static
// here; passing nil disables IP lookup entirely.
func (s *Server) SetGeoResolver(resolver geo.Resolver) {
	s.resolver = resolver
}

// Handler builds the routing tree. Exposed so tests can drive the server
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Order: logging -> metrics -> cors
	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware)
	r.Use(corsHandler(s.cfg.CORSAllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": consult.GetVersion().Version,
		})
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/regions", s.handleRegions)
	})

	return r
}

// Start binds the listener and serves until Stop or a listener error.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Address(),
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	slog.Info("HTTP server starting", "address", s.cfg.Address())

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests within the configured shutdown grace.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	slog.Info("HTTP server shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout())
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// ------------------------------------------------------------------
// Handlers
// ------------------------------------------------------------------

type analyzeRequest struct {
	Scenario    string `json:"scenario"`
	CountryCode string `json:"country_code,omitempty"`
	PatientID   string `json:"patient_id,omitempty"`
}

type analyzeResponse struct {
	ID          string               `json:"id"`
	CountryCode string               `json:"country_code"`
	Region      string               `json:"region"`
	Diagnoses   []clinical.Diagnosis `json:"diagnoses"`
	Summary     string               `json:"summary"`
	Warnings    []string             `json:"warnings"`
}

type errorResponse struct {
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	id := uuid.NewString()
	countryCode := s.resolveCountry(r, req.CountryCode)
	profile := region.ProfileName(countryCode)

	slog.Info("Analysis request",
		"id", id,
		"country", countryCode,
		"region", profile,
		"patient_id", req.PatientID)

	report, err := s.analyzer.Analyze(r.Context(), req.Scenario, countryCode, req.PatientID)
	if err != nil {
		status := statusForError(err)
		slog.Error("Analysis failed", "id", id, "status", status, "error", err)
		writeJSON(w, status, errorResponse{ID: id, Error: err.Error()})
		return
	}

	slog.Info("Analysis complete",
		"id", id,
		"diagnoses", len(report.Diagnoses),
		"warnings", len(report.Warnings))

	writeJSON(w, http.StatusOK, analyzeResponse{
		ID:          id,
		CountryCode: region.Normalize(countryCode),
		Region:      profile,
		Diagnoses:   report.Diagnoses,
		Summary:     report.Summary,
		Warnings:    report.Warnings,
	})
}

type regionsResponse struct {
	Regions  []string `json:"regions"`
	Fallback string   `json:"fallback"`
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, regionsResponse{
		Regions:  region.Supported(),
		Fallback: region.International,
	})
}

// resolveCountry picks the country code for a request: the explicit body
// field, then a geo lookup on the client IP, then the configured default.
// Geo failures only log; the request proceeds on the default.
func (s *Server) resolveCountry(r *http.Request, explicit string) string {
	if code := strings.TrimSpace(explicit); code != "" {
		return code
	}

	if s.resolver != nil {
		ip := clientIP(r)
		loc, err := s.resolver.Resolve(r.Context(), ip)
		if err != nil {
			slog.Warn("Geo lookup failed", "ip", ip, "error", err)
		} else if loc != nil && loc.CountryCode != "" {
			slog.Debug("Resolved country from client IP", "ip", ip, "country", loc.CountryCode)
			return loc.CountryCode
		}
	}

	return s.defaultCountry
}

// clientIP extracts the originating address: the first X-Forwarded-For hop
// when present, the socket peer otherwise.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusForError maps workflow errors onto HTTP statuses. Timeout is checked
// before cancellation so a deadline that also cancelled downstream work still
// reads as 504.
func statusForError(err error) int {
	switch {
	case errors.Is(err, fleet.ErrConfig):
		return http.StatusServiceUnavailable
	case errors.Is(err, fleet.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, fleet.ErrCancelled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
