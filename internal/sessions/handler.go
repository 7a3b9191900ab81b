package sessions

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/auth"
	"github.com/aura-classroom/backend/internal/eventlog"
	"github.com/aura-classroom/backend/internal/live"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/response"
)

// LiveTokenIssuer mints tokens for joining a session room. *auth.JWTService implements it.
type LiveTokenIssuer interface {
	GenerateLive(userID, role, sessionID string) (string, error)
}

// StartRequest is the body for POST /courses/:id/sessions.
type StartRequest struct {
	Title string `json:"title"`
}

// ActionRequest is the body for POST /sessions/:id/actions.
type ActionRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// EndResponse is returned by POST /sessions/:id/end.
type EndResponse struct {
	Session   models.Session    `json:"session"`
	Recording *models.Recording `json:"recording,omitempty"`
}

// Handler exposes live sessions over HTTP.
type Handler struct {
	registry *Registry
	log      eventlog.Store
	tokens   LiveTokenIssuer
	logger   *zap.Logger
}

// NewHandler creates a sessions handler. tokens may be nil, disabling join tokens.
func NewHandler(registry *Registry, log eventlog.Store, tokens LiveTokenIssuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, log: log, tokens: tokens, logger: logger}
}

// Register mounts read routes on read and presenter routes on write.
func (h *Handler) Register(read, write gin.IRoutes) {
	read.GET("/sessions/:id", h.Get)
	read.GET("/sessions/:id/events", h.Events)
	read.POST("/sessions/:id/join-token", h.JoinToken)
	write.POST("/courses/:id/sessions", h.Start)
	write.POST("/sessions/:id/actions", h.Submit)
	write.POST("/sessions/:id/end", h.End)
}

// Start handles POST /courses/:id/sessions.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	sess, err := h.registry.Start(c.Request.Context(), c.Param("id"), live.WithTitle(req.Title))
	if err != nil {
		h.fail(c, "start session failed", err)
		return
	}
	response.Created(c, sess)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	sess, err := h.registry.Session(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// Submit handles POST /sessions/:id/actions.
func (h *Handler) Submit(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ev, err := h.registry.Submit(c.Request.Context(), c.Param("id"), live.Action{
		Type:    models.EventType(req.Type),
		Payload: req.Payload,
	})
	if err != nil {
		h.fail(c, "submit action failed", err)
		return
	}
	response.Created(c, ev)
}

// End handles POST /sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.registry.End(c.Request.Context(), id)
	sess, _ := h.registry.Session(id)
	if err != nil {
		h.fail(c, "end session failed", err)
		return
	}
	response.OK(c, EndResponse{Session: sess, Recording: &rec})
}

// Events handles GET /sessions/:id/events. It reads the log directly, so sessions from
// earlier runs stay queryable.
func (h *Handler) Events(c *gin.Context) {
	events, err := h.log.Query(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "query session events failed", err)
		return
	}
	response.OK(c, events)
}

// JoinToken handles POST /sessions/:id/join-token. Instructors join as presenters.
func (h *Handler) JoinToken(c *gin.Context) {
	if h.tokens == nil {
		response.ServiceUnavailable(c, "live tokens not configured")
		return
	}
	id := c.Param("id")
	sess, err := h.registry.Session(id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if sess.Status.IsTerminal() {
		response.Conflict(c, "session is "+string(sess.Status))
		return
	}
	role := auth.RoleStudent
	if c.GetString(middleware.ContextUserRole) == auth.RoleInstructor {
		role = auth.RolePresenter
	}
	token, err := h.tokens.GenerateLive(c.GetString(middleware.ContextUserID), role, id)
	if err != nil {
		h.logger.Error("generate live token failed", zap.Error(err))
		response.Internal(c, "failed to generate token")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: gin.H{
		"token":  token,
		"ws_url": "/live/" + id + "/ws",
	}})
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	if response.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	response.Error(c, err)
}
