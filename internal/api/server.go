// Package api exposes the administration surface over HTTP: study
// queries, send/recount/delete operations, destinations, counts.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/johnperry/ISN/internal/application"
	"github.com/johnperry/ISN/internal/domain"
)

// Server holds the handler dependencies.
type Server struct {
	Cache        *application.Cache
	Destinations *domain.DestinationSet
	Logger       *slog.Logger
}

// Router builds the HTTP routing table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/objects", s.storeObject)
		r.Get("/studies/active", s.listActive)
		r.Get("/studies/sent", s.listSent)
		r.Get("/studies/{uid}", s.getStudy)
		r.Post("/studies/{uid}/send", s.sendStudy)
		r.Post("/studies/{uid}/recount", s.recountStudy)
		r.Delete("/studies/{uid}", s.deleteStudy)
		r.Get("/destinations", s.listDestinations)
		r.Get("/counts", s.counts)
	})
	return r
}

// storeObject ingests one object envelope into the cache. The request
// body is the envelope; the payload streams straight through.
func (s *Server) storeObject(w http.ResponseWriter, r *http.Request) {
	hdr, err := domain.DecodeObjectHeader(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.Cache.Store(r.Context(), application.IncomingObject{
		Header:  hdr,
		Payload: r.Body,
	}, nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listActive(w http.ResponseWriter, r *http.Request) {
	studies, err := s.Cache.ActiveStudies(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, studies)
}

func (s *Server) listSent(w http.ResponseWriter, r *http.Request) {
	studies, err := s.Cache.SentStudies(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, studies)
}

func (s *Server) getStudy(w http.ResponseWriter, r *http.Request) {
	study, err := s.Cache.GetStudy(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, study)
}

type sendRequest struct {
	Destination string `json:"destination"`
}

func (s *Server) sendStudy(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Destination == "" {
		s.respondError(w, http.StatusBadRequest, "destination is required")
		return
	}
	uid := chi.URLParam(r, "uid")
	if err := s.Cache.SendStudy(r.Context(), req.Destination, uid); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) recountStudy(w http.ResponseWriter, r *http.Request) {
	study, err := s.Cache.Recount(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, study)
}

func (s *Server) deleteStudy(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	study, err := s.Cache.GetStudy(r.Context(), uid)
	if err != nil {
		s.fail(w, err)
		return
	}
	if study.Status == domain.StatusInTransit {
		s.respondError(w, http.StatusForbidden, "study is in transit")
		return
	}
	if err := s.Cache.DeleteStudy(r.Context(), uid); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDestinations(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.Destinations.List())
}

func (s *Server) counts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.Cache.Counts(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, counts)
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, errorResponse{Error: msg})
}

// fail maps domain errors to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.Logger.Error("request failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
