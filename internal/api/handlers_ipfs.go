package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/service"
	"github.com/modelforge/internal/types"
)

// multipartOverhead is the slack allowed on top of the file size for form fields and boundaries
const multipartOverhead = 1 << 20

// handleIPFSStatus handles GET /api/ipfs/status
func (s *Server) handleIPFSStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.services.IPFS.Status())
}

// handleIPFSUploadText handles POST /api/ipfs/upload/text
func (s *Server) handleIPFSUploadText(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if !s.services.IPFS.Configured() {
		respondError(w, r, apperrors.NewServiceUnavailableError("IPFS service not configured"))
		return
	}

	var req service.UploadTextInput
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	view, err := s.services.IPFS.UploadText(r.Context(), userID, req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

// handleIPFSUploadFile handles POST /api/ipfs/upload/file (multipart field "file")
func (s *Server) handleIPFSUploadFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if !s.services.IPFS.Configured() {
		respondError(w, r, apperrors.NewServiceUnavailableError("IPFS service not configured"))
		return
	}

	max := s.services.IPFS.MaxUploadSize()
	r.Body = http.MaxBytesReader(w, r.Body, max+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fileTooLarge(max))
			return
		}
		respondError(w, r, apperrors.NewValidationError("No file uploaded", map[string]string{"file": "is required"}))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, apperrors.NewValidationError("No file uploaded", map[string]string{"file": "is required"}))
		return
	}
	defer file.Close()

	if header.Size > max {
		respondError(w, r, fileTooLarge(max))
		return
	}

	var modelID int64
	if raw := r.FormValue("modelId"); raw != "" {
		modelID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, r, apperrors.NewInvalidParameterError("modelId", "must be an integer"))
			return
		}
	}
	var description *string
	if d := r.FormValue("description"); d != "" {
		description = &d
	}

	view, err := s.services.IPFS.UploadFile(r.Context(), userID, service.FileUpload{
		FileName:    header.Filename,
		Size:        header.Size,
		ContentType: types.ContentType(r.FormValue("contentType")),
		Description: description,
		ModelID:     modelID,
		Content:     file,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func fileTooLarge(max int64) error {
	return apperrors.NewValidationError("File too large", map[string]string{
		"file": fmt.Sprintf("must be at most %d bytes", max),
	})
}

// handleIPFSContent handles GET /api/ipfs/content/{cid}
func (s *Server) handleIPFSContent(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["cid"]

	content, err := s.services.IPFS.Content(r.Context(), cid)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(content.Data))
	if content.Attachment {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": sanitizeFileName(content.FileName),
		}))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(content.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content.Data)
}

func sanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		return "download"
	}
	return name
}

// handleIPFSPin handles POST /api/ipfs/pin/{cid}
func (s *Server) handleIPFSPin(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	res, err := s.services.IPFS.Pin(r.Context(), mux.Vars(r)["cid"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleIPFSStorage handles GET /api/ipfs/storage
func (s *Server) handleIPFSStorage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	records, err := s.services.IPFS.Records(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// handleCreateDataset handles POST /api/datasets
func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req service.CreateDatasetInput
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	d, err := s.services.Datasets.Create(r.Context(), userID, req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

// handleUserDatasets handles GET /api/datasets/user
func (s *Server) handleUserDatasets(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	list, err := s.services.Datasets.ListByUser(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// handleGetDataset handles GET /api/datasets/{id}
func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	d, err := s.services.Datasets.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}
