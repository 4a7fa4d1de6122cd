package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/modelforge/internal/auth"
	apperrors "github.com/modelforge/internal/errors"
)

// pathID parses a numeric route variable
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewInvalidParameterError(name, "must be a positive integer")
	}
	return id, nil
}

// handleListModels handles GET /api/models
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.services.Models.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// handleGetModel handles GET /api/models/{id}
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	m, err := s.services.Models.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// handleListActivities handles GET /api/activities/{modelId}?limit=
func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	modelID, err := pathID(r, "modelId")
	if err != nil {
		respondError(w, r, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, r, apperrors.NewInvalidParameterError("limit", "must be a non-negative integer"))
			return
		}
	}

	activities, err := s.services.Activities.List(r.Context(), modelID, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, activities)
}

// handleStats handles GET /api/stats. Anonymous callers get a zero own-contribution count.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	summary, err := s.services.Models.Summary(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// handleEnvironment handles GET /api/environment
func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{
		"ipfsConfigured": s.services.IPFS.Configured(),
	})
}
