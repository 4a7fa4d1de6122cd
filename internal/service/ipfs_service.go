package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/ipfs"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/storage"
	"github.com/modelforge/internal/types"
)

// ContentGateway stores and retrieves content by CID
type ContentGateway interface {
	Configured() bool
	MaxUploadSize() int64
	GatewayURL(cid string) string
	Add(ctx context.Context, name string, content io.Reader) (*ipfs.AddResult, error)
	Cat(ctx context.Context, cid string) ([]byte, error)
	Pin(ctx context.Context, cid string) error
}

// IPFSStatus is the /api/ipfs/status payload
type IPFSStatus struct {
	Configured bool `json:"configured"`
	Ready      bool `json:"ready"`
}

// IPFSRecordView is a stored record with its public gateway address
type IPFSRecordView struct {
	*models.IPFSRecord
	GatewayURL string `json:"gatewayUrl"`
}

// UploadTextInput is the body of a text upload
type UploadTextInput struct {
	Content     string            `json:"content" validate:"required"`
	ContentType types.ContentType `json:"contentType" validate:"required,contenttype"`
	FileName    *string           `json:"fileName,omitempty"`
	Description *string           `json:"description,omitempty"`
	ModelID     int64             `json:"modelId,omitempty" validate:"gte=0"`
}

// FileUpload is a multipart file handed over by the API
type FileUpload struct {
	FileName    string            `validate:"required"`
	Size        int64             `validate:"gte=0"`
	ContentType types.ContentType `json:"contentType" validate:"required,contenttype"`
	Description *string
	ModelID     int64 `validate:"gte=0"`
	Content     io.Reader
}

// Content is retrieved content plus how it should be served
type Content struct {
	Data       []byte
	FileName   string
	Attachment bool
}

// PinResult is the /api/ipfs/pin payload
type PinResult struct {
	Success bool               `json:"success"`
	Pinned  bool               `json:"pinned"`
	Record  *models.IPFSRecord `json:"record"`
}

// IPFSService passes content through to the IPFS gateway and keeps a local
// record of every CID a user uploads
type IPFSService struct {
	store          storage.Store
	gateway        ContentGateway
	activities     *ActivityLog
	defaultModelID int64
	logger         *logging.Logger
}

// NewIPFSService creates an IPFS service
func NewIPFSService(store storage.Store, gateway ContentGateway, activities *ActivityLog, defaultModelID int64, logger *logging.Logger) *IPFSService {
	if defaultModelID <= 0 {
		defaultModelID = 1
	}
	return &IPFSService{
		store:          store,
		gateway:        gateway,
		activities:     activities,
		defaultModelID: defaultModelID,
		logger:         logger.WithComponent("ipfs-service"),
	}
}

// Status reports whether the gateway is usable
func (s *IPFSService) Status() IPFSStatus {
	ok := s.gateway.Configured()
	return IPFSStatus{Configured: ok, Ready: ok}
}

// Configured reports whether gateway credentials are present
func (s *IPFSService) Configured() bool {
	return s.gateway.Configured()
}

// GatewayURL returns the public address of cid
func (s *IPFSService) GatewayURL(cid string) string {
	return s.gateway.GatewayURL(cid)
}

// MaxUploadSize is the largest accepted upload in bytes
func (s *IPFSService) MaxUploadSize() int64 {
	return s.gateway.MaxUploadSize()
}

func (s *IPFSService) requireConfigured() error {
	if !s.gateway.Configured() {
		return apperrors.NewServiceUnavailableError("IPFS service not configured")
	}
	return nil
}

// UploadText uploads a text payload
func (s *IPFSService) UploadText(ctx context.Context, userID int64, in UploadTextInput) (*IPFSRecordView, error) {
	if err := s.requireConfigured(); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if max := s.gateway.MaxUploadSize(); max > 0 && int64(len(in.Content)) > max {
		return nil, apperrors.NewValidationError("Content too large", map[string]string{"content": fmt.Sprintf("must be at most %d bytes", max)})
	}

	name := ""
	if in.FileName != nil {
		name = *in.FileName
	}
	added, err := s.gateway.Add(ctx, name, strings.NewReader(in.Content))
	if err != nil {
		return nil, apperrors.NewUpstreamError("Failed to upload to IPFS", err)
	}

	size := int64(len(in.Content))
	return s.record(ctx, userID, &models.IPFSRecord{
		CID:         added.CID,
		ContentType: in.ContentType,
		FileName:    in.FileName,
		FileSize:    &size,
		Description: nonEmpty(in.Description),
		UserID:      &userID,
	}, in.ModelID, fmt.Sprintf("Uploaded %s content to IPFS", in.ContentType))
}

// UploadFile uploads a file received as multipart form data
func (s *IPFSService) UploadFile(ctx context.Context, userID int64, f FileUpload) (*IPFSRecordView, error) {
	if err := s.requireConfigured(); err != nil {
		return nil, err
	}
	if err := validateInput(f); err != nil {
		return nil, err
	}
	if f.Content == nil {
		return nil, apperrors.NewValidationError("No file uploaded", map[string]string{"file": "is required"})
	}

	added, err := s.gateway.Add(ctx, f.FileName, f.Content)
	if err != nil {
		return nil, apperrors.NewUpstreamError("Failed to upload file to IPFS", err)
	}

	name := f.FileName
	size := f.Size
	return s.record(ctx, userID, &models.IPFSRecord{
		CID:         added.CID,
		ContentType: f.ContentType,
		FileName:    &name,
		FileSize:    &size,
		Description: nonEmpty(f.Description),
		UserID:      &userID,
	}, f.ModelID, fmt.Sprintf("Uploaded %s file to IPFS: %s", f.ContentType, f.FileName))
}

func (s *IPFSService) record(ctx context.Context, userID int64, r *models.IPFSRecord, modelID int64, description string) (*IPFSRecordView, error) {
	saved, err := s.store.CreateIPFSRecord(ctx, r)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// the same bytes uploaded again hash to the same CID
			existing, getErr := s.store.GetIPFSRecordByCID(ctx, r.CID)
			if getErr == nil {
				return &IPFSRecordView{IPFSRecord: existing, GatewayURL: s.gateway.GatewayURL(existing.CID)}, nil
			}
		}
		return nil, apperrors.NewInternalError("Failed to store IPFS record", err)
	}

	if modelID <= 0 {
		modelID = s.defaultModelID
	}
	cid := saved.CID
	if _, err := s.activities.Record(ctx, models.NewActivity{
		UserID:      &userID,
		ModelID:     modelID,
		Action:      types.ActionUploadedToIPFS,
		Description: description,
		RelatedCID:  &cid,
	}); err != nil {
		s.logger.WithError(err).WithField("cid", cid).Error("upload stored without activity")
	}

	return &IPFSRecordView{IPFSRecord: saved, GatewayURL: s.gateway.GatewayURL(saved.CID)}, nil
}

// Content fetches cid from the gateway. Model, data and weights content is
// served as a download named after the recorded file name.
func (s *IPFSService) Content(ctx context.Context, cid string) (*Content, error) {
	if err := s.requireConfigured(); err != nil {
		return nil, err
	}

	data, err := s.gateway.Cat(ctx, cid)
	if err != nil {
		s.logger.WithError(err).WithField("cid", cid).Warn("content retrieval failed")
		nf := apperrors.NewNotFoundError("Content", cid)
		nf.Message = "Content not found on IPFS"
		return nil, nf
	}

	out := &Content{Data: data, FileName: cid}
	rec, err := s.store.GetIPFSRecordByCID(ctx, cid)
	switch {
	case err == nil:
		if rec.FileName != nil && *rec.FileName != "" {
			out.FileName = *rec.FileName
		}
		out.Attachment = rec.ContentType.Downloadable()
	case !errors.Is(err, storage.ErrNotFound):
		return nil, apperrors.NewInternalError("Failed to load IPFS record", err)
	}
	return out, nil
}

// Pin pins a CID that has a local record
func (s *IPFSService) Pin(ctx context.Context, cid string) (*PinResult, error) {
	if err := s.requireConfigured(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetIPFSRecordByCID(ctx, cid); err != nil {
		return nil, notFound(err, "IPFS record", cid)
	}

	if err := s.gateway.Pin(ctx, cid); err != nil {
		return nil, apperrors.NewUpstreamError("Failed to pin content", err)
	}

	rec, err := s.store.SetIPFSRecordPinned(ctx, cid, true)
	if err != nil {
		return nil, apperrors.NewInternalError("Content pinned but record update failed", err)
	}
	return &PinResult{Success: true, Pinned: true, Record: rec}, nil
}

// Records lists a user's uploads with gateway addresses
func (s *IPFSService) Records(ctx context.Context, userID int64) ([]*IPFSRecordView, error) {
	recs, err := s.store.ListIPFSRecordsByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to fetch IPFS storage records", err)
	}
	out := make([]*IPFSRecordView, 0, len(recs))
	for _, r := range recs {
		out = append(out, &IPFSRecordView{IPFSRecord: r, GatewayURL: s.gateway.GatewayURL(r.CID)})
	}
	return out, nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
