package recordings

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/response"
)

// WebhookSecretHeader carries the shared secret of external encoders.
const WebhookSecretHeader = "X-Webhook-Secret"

// EncodedPayload is the body an external encoder posts when it finishes a recording.
type EncodedPayload struct {
	RecordingID string `json:"recording_id" binding:"required"`
	Status      string `json:"status" binding:"required,oneof=ready failed"`
	ArtifactKey string `json:"artifact_key"`
	Reason      string `json:"reason"`
}

// WebhookHandler lets an out-of-process encoder finish recordings.
type WebhookHandler struct {
	manager *Manager
	secret  string
	logger  *zap.Logger
}

// NewWebhookHandler creates a webhook handler. An empty secret disables the endpoint.
func NewWebhookHandler(manager *Manager, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{manager: manager, secret: secret, logger: logger}
}

// RecordingEncoded handles POST /webhooks/recording-encoded.
func (h *WebhookHandler) RecordingEncoded(c *gin.Context) {
	if h.secret == "" {
		response.ServiceUnavailable(c, "webhook not configured")
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.GetHeader(WebhookSecretHeader)), []byte(h.secret)) != 1 {
		response.Unauthorized(c, "invalid webhook secret")
		return
	}
	var body EncodedPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	var (
		rec models.Recording
		err error
	)
	if models.RecordingStatus(body.Status) == models.RecordingStatusReady {
		if body.ArtifactKey == "" {
			response.BadRequest(c, "artifact_key required")
			return
		}
		rec, err = h.manager.Complete(c.Request.Context(), body.RecordingID, body.ArtifactKey)
	} else {
		rec, err = h.manager.Fail(c.Request.Context(), body.RecordingID, body.Reason)
	}
	if err != nil {
		h.logger.Warn("recording webhook rejected", zap.String("recording_id", body.RecordingID), zap.Error(err))
		response.Error(c, err)
		return
	}
	h.logger.Info("recording webhook processed", zap.String("recording_id", rec.ID), zap.String("status", string(rec.Status)))
	response.OK(c, rec)
}
