package recordings

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/response"
)

// Presigner issues download URLs for stored artifacts. *storage.S3 implements it.
type Presigner interface {
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
	UploadRecordingsBucket() string
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	manager *Manager
	s3      Presigner
	logger  *zap.Logger
}

// NewHandler creates a recordings handler. s3 may be nil; download URLs are then unavailable.
func NewHandler(manager *Manager, s3 Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, s3: s3, logger: logger}
}

// Register mounts the routes on g.
func (h *Handler) Register(g gin.IRoutes) {
	g.GET("/recordings", h.List)
	g.GET("/recordings/:id", h.Get)
	g.GET("/recordings/:id/download-url", h.GenerateDownloadURL)
	g.GET("/courses/:id/recordings", h.ListByCourse)
}

// Get handles GET /recordings/:id.
func (h *Handler) Get(c *gin.Context) {
	rec, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get recording failed", err)
		return
	}
	response.OK(c, rec)
}

// List handles GET /recordings?course_id=.
func (h *Handler) List(c *gin.Context) {
	h.list(c, c.Query("course_id"))
}

// ListByCourse handles GET /courses/:id/recordings.
func (h *Handler) ListByCourse(c *gin.Context) {
	h.list(c, c.Param("id"))
}

func (h *Handler) list(c *gin.Context, courseID string) {
	list, err := h.manager.List(c.Request.Context(), Filter{CourseID: courseID})
	if err != nil {
		h.fail(c, "list recordings failed", err)
		return
	}
	response.OK(c, list)
}

// GenerateDownloadURL handles GET /recordings/:id/download-url. Only ready recordings with a stored artifact qualify.
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	rec, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get recording failed", err)
		return
	}
	if rec.Status != models.RecordingStatusReady || rec.ArtifactKey == "" {
		response.Conflict(c, "recording not ready for download")
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "S3 not configured")
		return
	}
	expire := h.s3.PresignExpire()
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.UploadRecordingsBucket(), rec.ArtifactKey, expire)
	if err != nil {
		h.logger.Error("presign recording download failed", zap.Error(err), zap.String("recording_id", rec.ID))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expire.Seconds())})
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	if response.StatusFor(err) >= 500 {
		h.logger.Error(msg, zap.Error(err))
	}
	response.Error(c, err)
}
