package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceprofiles/internal/faceprofile"
	"github.com/your-org/faceprofiles/internal/models"
	"github.com/your-org/faceprofiles/pkg/dto"
)

const maxImageBytes = 10 << 20

// ProfileService is the face profile flow the handlers drive.
type ProfileService interface {
	List(ctx context.Context, userID, companyID uuid.UUID) ([]models.FaceProfile, error)
	Get(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error)
	GetAnyState(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error)
	Enroll(ctx context.Context, in faceprofile.EnrollInput) (*models.FaceProfile, error)
	Delete(ctx context.Context, profileID, companyID uuid.UUID, hard bool) error
	SetPrimary(ctx context.Context, profileID, userID, companyID uuid.UUID, value bool) error
}

// ImageStore keeps enrollment images. It is optional.
type ImageStore interface {
	PutEnrollImage(ctx context.Context, companyID, userID uuid.UUID, data []byte, contentType string) (string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

type ProfileHandler struct {
	profiles ProfileService
	images   ImageStore
}

func NewProfileHandler(profiles ProfileService, images ImageStore) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, images: images}
}

func (h *ProfileHandler) List(c *gin.Context) {
	userID, companyID, ok := userAndCompany(c, c.Query("company_id"))
	if !ok {
		return
	}

	profiles, err := h.profiles.List(c.Request.Context(), userID, companyID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]dto.FaceProfileResponse, 0, len(profiles))
	for i := range profiles {
		resp = append(resp, toResponse(&profiles[i]))
	}
	c.JSON(http.StatusOK, dto.FaceProfileListResponse{Profiles: resp, Total: len(resp)})
}

func (h *ProfileHandler) Get(c *gin.Context) {
	p, ok := h.loadOwned(c, c.Query("company_id"), false)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toResponse(p))
}

// Enroll accepts a multipart image upload and registers it with the engine.
//
// Form fields: image (file), company_id, device_id, make_primary, metadata (JSON object).
func (h *ProfileHandler) Enroll(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImageBytes+1<<20)

	userID, companyID, ok := userAndCompany(c, c.PostForm("company_id"))
	if !ok {
		return
	}

	makePrimary := false
	if v := c.PostForm("make_primary"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "invalid make_primary")
			return
		}
		makePrimary = b
	}

	metadata := map[string]string{}
	if v := c.PostForm("metadata"); v != "" {
		if err := json.Unmarshal([]byte(v), &metadata); err != nil {
			badRequest(c, "metadata must be a JSON object of strings")
			return
		}
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		badRequest(c, "image file required")
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "read image failed", Code: string(faceprofile.KindInternal)})
		return
	}
	if len(imageData) > maxImageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "image too large", Code: string(faceprofile.KindInvalidRequest)})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(imageData)
	}

	var imageKey string
	if h.images != nil {
		imageKey, err = h.images.PutEnrollImage(c.Request.Context(), companyID, userID, imageData, contentType)
		if err != nil {
			slog.Error("store enrollment image", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "store image failed", Code: string(faceprofile.KindInternal)})
			return
		}
	}

	p, err := h.profiles.Enroll(c.Request.Context(), faceprofile.EnrollInput{
		UserID:          userID,
		CompanyID:       companyID,
		DeviceID:        c.PostForm("device_id"),
		ImageData:       imageData,
		MakePrimary:     makePrimary,
		Metadata:        metadata,
		EnrollImagePath: imageKey,
	})
	if err != nil {
		if imageKey != "" {
			h.discardImage(c.Request.Context(), imageKey)
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toResponse(p))
}

// Delete removes a profile. ?hard=true erases it physically.
func (h *ProfileHandler) Delete(c *gin.Context) {
	hard := false
	if v := c.Query("hard"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "invalid hard flag")
			return
		}
		hard = b
	}

	p, ok := h.loadOwned(c, c.Query("company_id"), hard)
	if !ok {
		return
	}

	if err := h.profiles.Delete(c.Request.Context(), p.ID, p.CompanyID, hard); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ProfileHandler) SetPrimary(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		badRequest(c, "invalid user_id")
		return
	}
	profileID, err := uuid.Parse(c.Param("fid"))
	if err != nil {
		badRequest(c, "invalid face profile id")
		return
	}

	var req dto.SetPrimaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.profiles.SetPrimary(c.Request.Context(), profileID, userID, req.CompanyID, *req.Status); err != nil {
		writeError(c, err)
		return
	}

	p, err := h.profiles.Get(c.Request.Context(), profileID, req.CompanyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(p))
}

// Image streams the stored enrollment image of an active profile.
func (h *ProfileHandler) Image(c *gin.Context) {
	p, ok := h.loadOwned(c, c.Query("company_id"), false)
	if !ok {
		return
	}
	if h.images == nil || p.EnrollImagePath == "" {
		writeError(c, faceprofile.NotFound("enrollment image"))
		return
	}

	data, err := h.images.GetObject(c.Request.Context(), p.EnrollImagePath)
	if err != nil {
		slog.Error("load enrollment image", "profile_id", p.ID, "key", p.EnrollImagePath, "error", err)
		writeError(c, faceprofile.NotFound("enrollment image"))
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

// loadOwned resolves :fid for :user_id. Profiles of another user are reported
// as not found. anyState admits soft-deleted profiles.
func (h *ProfileHandler) loadOwned(c *gin.Context, rawCompany string, anyState bool) (*models.FaceProfile, bool) {
	userID, companyID, ok := userAndCompany(c, rawCompany)
	if !ok {
		return nil, false
	}
	profileID, err := uuid.Parse(c.Param("fid"))
	if err != nil {
		badRequest(c, "invalid face profile id")
		return nil, false
	}

	var p *models.FaceProfile
	if anyState {
		p, err = h.profiles.GetAnyState(c.Request.Context(), profileID, companyID)
	} else {
		p, err = h.profiles.Get(c.Request.Context(), profileID, companyID)
	}
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if p.UserID != userID {
		writeError(c, faceprofile.NotFound("face profile"))
		return nil, false
	}
	return p, true
}

func (h *ProfileHandler) discardImage(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.images.DeleteObject(ctx, key); err != nil {
		slog.Warn("discard enrollment image", "key", key, "error", err)
	}
}

func userAndCompany(c *gin.Context, rawCompany string) (uuid.UUID, uuid.UUID, bool) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		badRequest(c, "invalid user_id")
		return uuid.Nil, uuid.Nil, false
	}
	if rawCompany == "" {
		badRequest(c, "company_id is required")
		return uuid.Nil, uuid.Nil, false
	}
	companyID, err := uuid.Parse(rawCompany)
	if err != nil {
		badRequest(c, "invalid company_id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, companyID, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg, Code: string(faceprofile.KindInvalidRequest)})
}

// writeError maps a coordinator error onto its HTTP status. Engine rejection
// messages are passed through verbatim; internal errors are not.
func writeError(c *gin.Context, err error) {
	kind := faceprofile.KindOf(err)
	meta := faceprofile.MetadataFor(kind)

	msg := meta.PublicMessage
	var fe *faceprofile.Error
	if kind != faceprofile.KindInternal && kind != faceprofile.KindGatewayUnavailable &&
		errors.As(err, &fe) && fe.Message != "" {
		msg = fe.Message
	}

	if meta.HTTPStatus >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "kind", kind, "error", err)
	}
	c.JSON(meta.HTTPStatus, dto.ErrorResponse{Error: msg, Code: string(kind), Retryable: meta.Retryable})
}

func toResponse(p *models.FaceProfile) dto.FaceProfileResponse {
	resp := dto.FaceProfileResponse{
		ProfileID:        p.ID,
		UserID:           p.UserID,
		CompanyID:        p.CompanyID,
		EmbeddingVersion: p.EmbeddingVersion,
		IsPrimary:        p.IsPrimary,
		QualityScore:     p.QualityScore,
		Metadata:         p.MetaData,
		Indexed:          p.Indexed,
		CreatedAt:        p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]string{}
	}
	if p.EnrollImagePath != "" {
		resp.ImageURL = "/v1/users/" + p.UserID.String() + "/face-data/" + p.ID.String() +
			"/image?company_id=" + p.CompanyID.String()
	}
	return resp
}
