package transport

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go-bg-remover/internal/auth"
	"go-bg-remover/internal/config"
	apperrors "go-bg-remover/internal/errors"
	"go-bg-remover/internal/logger"
	"go-bg-remover/internal/observer"
	"go-bg-remover/internal/removal"
	"go-bg-remover/internal/repository"
	"go-bg-remover/internal/session"
	"go-bg-remover/internal/shell"
	"go-bg-remover/internal/storage"
	"go-bg-remover/internal/workflow"
	"go-bg-remover/pkg/models"
	"go-bg-remover/pkg/validation"
)

const (
	sessionCookie = "bgr_session"
	sessionKey    = "session"
	imageField    = "image"
)

type Handler struct {
	sessions  *session.Manager
	identity  auth.Provider
	validator *validation.URLValidator
	metrics   *observer.MetricsObserver
	cfg       *config.Config
}

func NewHandler(
	sessions *session.Manager,
	identity auth.Provider,
	validator *validation.URLValidator,
	metrics *observer.MetricsObserver,
	cfg *config.Config,
) (http.Handler, error) {
	tmpl, err := shell.Templates()
	if err != nil {
		return nil, err
	}

	h := &Handler{
		sessions:  sessions,
		identity:  identity,
		validator: validator,
		metrics:   metrics,
		cfg:       cfg,
	}

	r := gin.New()
	r.SetHTMLTemplate(tmpl)

	// Add middleware
	r.Use(
		gin.Recovery(),
		requestID(),
		requestLogger(),
		errorHandler(),
		requestSizeLimiter(cfg.MaxRequestBodySize),
	)

	// Configure routes
	r.GET("/", auth.Optional(identity), h.index)
	r.GET("/health", healthCheck)
	r.GET("/metrics", h.metricsSnapshot)

	api := r.Group("/api/session", auth.Required(identity), h.resolveSession)
	api.GET("", h.getSession)
	api.POST("/image", h.selectImage)
	api.POST("/image-url", h.selectImageURL)
	api.POST("/submit", h.submit)
	api.GET("/download", h.download)
	api.POST("/fullscreen", h.showFullscreen)
	api.DELETE("/fullscreen", h.dismissFullscreen)

	return r, nil
}

func (h *Handler) index(c *gin.Context) {
	user := auth.FromContext(c)
	snap := workflow.Snapshot{State: workflow.StateIdle}

	if user != nil {
		s, err := h.session(c, user)
		if err != nil {
			_ = c.Error(apperrors.NewInternalError("Failed to load session", err))
			return
		}
		snap = s.Controller.Snapshot()
	}

	c.HTML(http.StatusOK, shell.PageTemplate, shell.NewPage(user, snap, h.cfg.SignInURL))
}

// resolveSession binds the caller's workflow to the request.
func (h *Handler) resolveSession(c *gin.Context) {
	s, err := h.session(c, auth.FromContext(c))
	if err != nil {
		_ = c.Error(apperrors.NewInternalError("Failed to load session", err))
		c.Abort()
		return
	}
	c.Set(sessionKey, s)
	c.Next()
}

func (h *Handler) session(c *gin.Context, user *auth.Identity) (*repository.Session, error) {
	cookie, _ := c.Cookie(sessionCookie)
	s, created, err := h.sessions.Resolve(c.Request.Context(), cookie, user.UserID)
	if err != nil {
		return nil, err
	}
	if created {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     sessionCookie,
			Value:    s.ID,
			Path:     "/",
			MaxAge:   int(h.cfg.SessionTTL.Seconds()),
			HttpOnly: true,
			Secure:   h.cfg.SessionCookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return s, nil
}

func currentSession(c *gin.Context) *repository.Session {
	return c.MustGet(sessionKey).(*repository.Session)
}

func (h *Handler) respondSnapshot(c *gin.Context, code int, snap workflow.Snapshot) {
	s := currentSession(c)
	c.JSON(code, models.SessionResponse{
		SessionID: s.ID,
		User:      auth.FromContext(c),
		Snapshot:  snap,
	})
}

func (h *Handler) getSession(c *gin.Context) {
	h.respondSnapshot(c, http.StatusOK, currentSession(c).Controller.Snapshot())
}

func (h *Handler) selectImage(c *gin.Context) {
	s := currentSession(c)

	fileHeader, err := c.FormFile(imageField)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			_ = c.Error(apperrors.NewTooLargeError("Image exceeds the upload limit", err))
			return
		}
		_ = c.Error(apperrors.NewValidationError("An image file is required in field \"image\"", err))
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !acceptedUploadType(contentType) {
		_ = c.Error(apperrors.NewValidationError("Only image files can be selected", nil))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		_ = c.Error(apperrors.NewEncodeError("Selected image could not be read", err))
		return
	}
	defer file.Close()

	logger.WithSession(s.ID).WithFields(logrus.Fields{
		"filename":     fileHeader.Filename,
		"size":         fileHeader.Size,
		"content_type": contentType,
	}).Debug("Selecting uploaded image")

	snap, err := s.Controller.Select(c.Request.Context(), file, contentType, fileHeader.Filename)
	if err != nil {
		_ = c.Error(workflowError(err))
		return
	}
	h.respondSnapshot(c, http.StatusOK, snap)
}

func (h *Handler) selectImageURL(c *gin.Context) {
	s := currentSession(c)

	var req models.SelectURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	if err := h.validator.ValidateSourceURL(req.URL); err != nil {
		_ = c.Error(err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.SourceFetchTimeout)
	defer cancel()

	logger.WithSession(s.ID).WithField("url", req.URL).Debug("Selecting image by URL")

	snap, err := s.Controller.SelectURL(ctx, req.URL)
	if err != nil {
		_ = c.Error(workflowError(err))
		return
	}
	h.respondSnapshot(c, http.StatusOK, snap)
}

func (h *Handler) submit(c *gin.Context) {
	s := currentSession(c)
	startTime := time.Now()

	snap, err := s.Controller.Submit(c.Request.Context())
	if err != nil {
		_ = c.Error(workflowError(err))
		return
	}

	logger.WithSession(s.ID).WithFields(logrus.Fields{
		"processing_time_ms": time.Since(startTime).Milliseconds(),
		"state":              snap.State,
	}).Info("Background removal completed")

	h.respondSnapshot(c, http.StatusOK, snap)
}

func (h *Handler) download(c *gin.Context) {
	d, err := currentSession(c).Controller.Download()
	if err != nil {
		_ = c.Error(workflowError(err))
		return
	}
	c.JSON(http.StatusOK, models.DownloadResponse{URL: d.URL, Filename: d.Filename})
}

func (h *Handler) showFullscreen(c *gin.Context) {
	var req models.FullscreenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	snap, err := currentSession(c).Controller.ShowFullscreen(req.Target)
	if err != nil {
		_ = c.Error(workflowError(err))
		return
	}
	h.respondSnapshot(c, http.StatusOK, snap)
}

func (h *Handler) dismissFullscreen(c *gin.Context) {
	h.respondSnapshot(c, http.StatusOK, currentSession(c).Controller.DismissFullscreen())
}

func (h *Handler) metricsSnapshot(c *gin.Context) {
	metrics := h.metrics.GetMetrics()
	metrics["active_sessions"] = h.sessions.Count(c.Request.Context())
	c.JSON(http.StatusOK, metrics)
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// acceptedUploadType allows image/* and the generic types browsers send
// when they cannot tell.
func acceptedUploadType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}

func bindError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return apperrors.NewTooLargeError("Request body too large", err)
	}
	return apperrors.NewValidationError("Invalid request format", err)
}

// workflowError maps controller and removal errors onto the public taxonomy.
// Removal failures always surface with the same generic message.
func workflowError(err error) error {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, workflow.ErrSubmitDisabled):
		return apperrors.NewConflictError("Submission is disabled until an image is selected and no removal is running", err)
	case errors.Is(err, workflow.ErrSuperseded):
		return apperrors.NewConflictError("A newer image was selected", err)
	case errors.As(err, &maxBytesErr), errors.Is(err, storage.ErrSourceTooLarge):
		return apperrors.NewTooLargeError("Image exceeds the upload limit", err)
	case errors.Is(err, storage.ErrBlockedAddress):
		return apperrors.NewValidationError("URL host is not publicly routable", err)
	case errors.Is(err, workflow.ErrEncodeFailed):
		return apperrors.NewEncodeError("Selected image could not be read", err)
	case errors.Is(err, removal.ErrRemovalFailed):
		return apperrors.NewRemovalError(removal.ErrRemovalFailed.Error(), err)
	case errors.Is(err, workflow.ErrNoProcessedImage):
		return apperrors.NewNotFoundError("No processed image to download", err)
	case errors.Is(err, workflow.ErrInvalidTarget):
		return apperrors.NewValidationError("Fullscreen target must be a displayed image", err)
	case errors.Is(err, workflow.ErrNoFetcher):
		return apperrors.NewNotFoundError("Selecting by URL is not available", err)
	default:
		return apperrors.NewInternalError("Request processing failed", err)
	}
}
