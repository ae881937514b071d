package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mytube-pipeline/constant"
	"mytube-pipeline/entities"
	"mytube-pipeline/service"
)

type gatewayDeps struct {
	uploads      service.UploadService
	statuses     service.StatusStore
	gate         service.PublishGate
	orchestrator *service.Orchestrator
	videos       videoReader
}

type videoReader interface {
	FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error)
}

type initiateUploadRequest struct {
	Filename     string  `json:"filename" binding:"required"`
	ContentType  string  `json:"content_type" binding:"required"`
	DeclaredSize int64   `json:"declared_size" binding:"required"`
	Checksum     *string `json:"checksum"`
}

type initiateUploadResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	VideoID   uuid.UUID `json:"video_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type appendChunkResponse struct {
	Result        service.AppendResult `json:"result"`
	ReceivedBytes int64                `json:"received_bytes"`
}

type publishRequest struct {
	VideoID    uuid.UUID           `json:"video_id" binding:"required"`
	Visibility constant.Visibility `json:"visibility" binding:"required"`
}

func addRoutes(r *gin.Engine, deps gatewayDeps) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")

	v1.POST("/uploads", func(c *gin.Context) {
		ownerID, ok := requireUser(c)
		if !ok {
			return
		}
		var req initiateUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		session, err := deps.uploads.Initiate(c.Request.Context(), ownerID, req.Filename, req.ContentType, req.DeclaredSize, req.Checksum)
		if err != nil {
			abortWithServiceError(c, err)
			return
		}
		c.JSON(http.StatusCreated, initiateUploadResponse{
			SessionID: session.ID,
			VideoID:   session.VideoID,
			ExpiresAt: session.ExpiresAt,
		})
	})

	v1.PUT("/uploads/:id/chunks", func(c *gin.Context) {
		sessionID, ok := pathUUID(c, "id")
		if !ok {
			return
		}
		offset, err := strconv.ParseInt(c.GetHeader("Upload-Offset"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid Upload-Offset header"})
			return
		}
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read chunk body"})
			return
		}

		result, err := deps.uploads.AppendChunk(c.Request.Context(), sessionID, offset, data)
		if err != nil {
			abortWithServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, appendChunkResponse{Result: result, ReceivedBytes: int64(len(data))})
	})

	v1.POST("/uploads/:id/complete", func(c *gin.Context) {
		sessionID, ok := pathUUID(c, "id")
		if !ok {
			return
		}
		video, err := deps.uploads.Complete(c.Request.Context(), sessionID)
		if err != nil {
			abortWithServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, video)
	})

	v1.DELETE("/uploads/:id", func(c *gin.Context) {
		sessionID, ok := pathUUID(c, "id")
		if !ok {
			return
		}
		if err := deps.uploads.Abort(c.Request.Context(), sessionID); err != nil {
			abortWithServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	v1.GET("/processing/:video_id/status", func(c *gin.Context) {
		videoID, ok := pathUUID(c, "video_id")
		if !ok {
			return
		}
		record, err := deps.statuses.Get(c.Request.Context(), videoID)
		if err != nil {
			abortWithServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	})

	v1.POST("/processing/publish", func(c *gin.Context) {
		var req publishRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !req.Visibility.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid visibility"})
			return
		}
		video, err := deps.gate.Publish(c.Request.Context(), req.VideoID, req.Visibility)
		if err != nil {
			abortWithServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, video)
	})

	v1.POST("/processing/:video_id/cancel", func(c *gin.Context) {
		videoID, ok := pathUUID(c, "video_id")
		if !ok {
			return
		}
		if err := deps.orchestrator.Cancel(c.Request.Context(), videoID); err != nil {
			abortWithServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	v1.GET("/videos/:id", func(c *gin.Context) {
		videoID, ok := pathUUID(c, "id")
		if !ok {
			return
		}
		video, err := deps.videos.FindVideoById(c.Request.Context(), videoID)
		if err != nil {
			abortWithServiceError(c, err)
			return
		}

		// Unpublished videos are visible to their owner only.
		if video.PublishedAt == nil {
			requester, err := uuid.Parse(c.GetHeader("X-User-Id"))
			if err != nil || requester != video.OwnerID {
				c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
				return
			}
		}
		c.JSON(http.StatusOK, video)
	})
}

func requireUser(c *gin.Context) (uuid.UUID, bool) {
	ownerID, err := uuid.Parse(c.GetHeader("X-User-Id"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid X-User-Id header"})
		return uuid.Nil, false
	}
	return ownerID, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func abortWithServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrVideoNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidContentType),
		errors.Is(err, service.ErrInvalidChunkRange),
		errors.Is(err, service.ErrIncompleteUpload),
		errors.Is(err, service.ErrChecksumMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSizeLimitExceeded), errors.Is(err, service.ErrBufferOverflow):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSessionExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrChunkOverlap),
		errors.Is(err, service.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
