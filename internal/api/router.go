// Package api exposes the manual trigger and read-only product insight over
// HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pricewatch/internal/domain"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
)

// Trigger runs the price check chain on demand.
type Trigger interface {
	TriggerNow(ctx context.Context) error
	Busy() bool
}

// Insights builds the read-only product view.
type Insights interface {
	Insight(ctx context.Context, productID uint64) (tracker.Insight, error)
}

// Notifications is the slice of the repository behind the notification routes.
type Notifications interface {
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID int64, ids ...string) (int, error)
}

// Handler serves the HTTP routes.
type Handler struct {
	trigger       Trigger
	insights      Insights
	notifications Notifications
	log           logrus.FieldLogger
}

func NewHandler(trigger Trigger, insights Insights, notifications Notifications, logger logrus.FieldLogger) *Handler {
	return &Handler{
		trigger:       trigger,
		insights:      insights,
		notifications: notifications,
		log:           logger.WithField("component", "api"),
	}
}

// NewRouter wires the routes onto a gin engine.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.log))

	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	{
		api.POST("/check-now", h.CheckNow)
		api.GET("/products/:id", h.GetProduct)
		api.GET("/users/:id/notifications", h.ListNotifications)
		api.POST("/users/:id/notifications/read", h.MarkNotificationsRead)
	}
	return r
}

// GET /healthz
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"checking": h.trigger.Busy(),
	})
}

// POST /api/check-now
func (h *Handler) CheckNow(c *gin.Context) {
	// A dropped client must not abort the run halfway.
	err := h.trigger.TriggerNow(context.WithoutCancel(c.Request.Context()))
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
	case err != nil:
		h.log.WithError(err).Warn("Manual check finished with errors")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "price check finished with errors"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// GET /api/products/:id
func (h *Handler) GetProduct(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}
	in, err := h.insights.Insight(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		h.log.WithError(err).WithField("product_id", id).Error("Failed to load product insight")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, in)
}

type notificationsQuery struct {
	Unread bool `form:"unread"`
	Limit  int  `form:"limit,default=50" binding:"min=0,max=500"`
}

// GET /api/users/:id/notifications?unread=true&limit=20
func (h *Handler) ListNotifications(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var q notificationsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query", "details": err.Error()})
		return
	}

	notes, err := h.notifications.ListNotifications(c.Request.Context(), userID, q.Unread, q.Limit)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("Failed to list notifications")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if notes == nil {
		notes = []domain.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notes})
}

// POST /api/users/:id/notifications/read
func (h *Handler) MarkNotificationsRead(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	n, err := h.notifications.MarkNotificationsRead(c.Request.Context(), userID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("Failed to mark notifications read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("HTTP request")
	}
}
