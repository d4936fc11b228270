package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type changeStreamer interface {
	Serve(w http.ResponseWriter, r *http.Request, categories []string) error
}

// NotificationHandler upgrades dashboard views to the change stream.
type NotificationHandler struct {
	hub    changeStreamer
	logger *zap.Logger
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(hub changeStreamer, logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{hub: hub, logger: logger}
}

// Stream godoc
// @Summary Subscribe to change notifications
// @Description Upgrades to a websocket that receives {"type":"refetch","category":...} after each applied mutation.
// @Tags Notifications
// @Param categories query string false "Comma separated table names; empty means all"
// @Success 101 {string} string "Switching Protocols"
// @Router /ws/changes [get]
func (h *NotificationHandler) Stream(c *gin.Context) {
	if err := h.hub.Serve(c.Writer, c.Request, parseCategories(c.Query("categories"))); err != nil {
		h.logger.Debug("change stream upgrade failed", zap.Error(err))
	}
}

func parseCategories(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
