package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/service"
	"github.com/modelforge/internal/types"
)

// handleListContributions handles GET /api/contributions?modelId=|status=
// Exactly one filter must be given.
func (s *Server) handleListContributions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawModel, status := q.Get("modelId"), q.Get("status")

	switch {
	case rawModel == "" && status == "":
		respondError(w, r, apperrors.NewValidationError("Missing filter parameters", nil))
	case rawModel != "" && status != "":
		respondError(w, r, apperrors.NewValidationError("Specify either modelId or status, not both", nil))
	case rawModel != "":
		modelID, err := strconv.ParseInt(rawModel, 10, 64)
		if err != nil || modelID <= 0 {
			respondError(w, r, apperrors.NewInvalidParameterError("modelId", "must be a positive integer"))
			return
		}
		list, err := s.services.Contributions.ListByModel(r.Context(), modelID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	default:
		list, err := s.services.Contributions.ListByStatus(r.Context(), types.ContributionStatus(status))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

// handleUserContributions handles GET /api/contributions/user
func (s *Server) handleUserContributions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	list, err := s.services.Contributions.ListByUser(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// handleSubmitContribution handles POST /api/contributions
func (s *Server) handleSubmitContribution(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req service.SubmitContributionInput
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	c, err := s.services.Contributions.Submit(r.Context(), userID, req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// handleApplyContribution handles POST /api/contributions/{id}/apply
func (s *Server) handleApplyContribution(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.services.Contributions.Apply(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleRejectContribution handles POST /api/contributions/{id}/reject
func (s *Server) handleRejectContribution(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	c, err := s.services.Contributions.Reject(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// handleComputeRegister handles POST /api/compute/register
func (s *Server) handleComputeRegister(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if _, err := s.services.Compute.Register(r.Context(), userID); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true, "computeProvider": true})
}

// handleComputeContribute handles POST /api/compute/contribute. The body is
// optional; modelId defaults to the configured model.
func (s *Server) handleComputeContribute(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		ModelID int64 `json:"modelId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, apperrors.NewValidationError("Invalid request body", map[string]string{"body": err.Error()}))
		return
	}

	result, err := s.services.Compute.TrainStep(r.Context(), userID, req.ModelID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
