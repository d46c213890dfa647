// Package sse streams stash change notifications to browsers.
package sse

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/partystash/cache"
	mw "github.com/kasuganosora/partystash/middleware"
	"go.uber.org/zap"
)

// Stream is the change feed the handler relays.
type Stream interface {
	Stream(ctx context.Context, partyID int64) (<-chan *cache.Message, func(), error)
}

// Handler serves GET /api/parties/:id/events.
type Handler struct {
	feed      Stream
	origins   map[string]bool
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a Handler. An empty origin list allows every origin.
func NewHandler(feed Stream, allowedOrigins []string, logger *zap.Logger) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Handler{feed: feed, origins: origins, keepalive: 30 * time.Second, logger: logger}
}

func (h *Handler) originAllowed(origin string) bool {
	return origin == "" || len(h.origins) == 0 || h.origins[origin]
}

// ServeSSE sends a stash_changed event whenever the party's stash changes.
// The event carries no state; clients refetch the stash. Runs behind
// middleware.Auth and middleware.RequireParty.
func (h *Handler) ServeSSE(c *gin.Context) {
	origin := c.GetHeader("Origin")
	if !h.originAllowed(origin) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}
	partyID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid party id"})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	msgCh, unsub, err := h.feed.Stream(ctx, partyID)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Int64("party_id", partyID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	if origin != "" {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Vary", "Origin")
	}
	c.Status(http.StatusOK)

	role := ""
	if claims := mw.GetClaims(c); claims != nil {
		role = claims.Role
	}
	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"party_id\":%d,\"role\":%q}\n\n", partyID, role)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case _, ok := <-msgCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: stash_changed\ndata: {\"party_id\":%d}\n\n", partyID)
			c.Writer.Flush()
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}
