package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/convoflow/api"
	"github.com/BaSui01/convoflow/types"
	"go.uber.org/zap"
)

// ToolCatalog lists the tools available to a principal.
type ToolCatalog interface {
	ListTools(ctx context.Context, principal string, useCache bool) ([]types.ToolSchema, error)
	InvalidateTools(ctx context.Context, principal string) error
}

// ToolHandler exposes the tool catalog.
type ToolHandler struct {
	catalog ToolCatalog
	logger  *zap.Logger
}

// NewToolHandler creates a tool handler. catalog may be nil when no tool
// service is configured.
func NewToolHandler(catalog ToolCatalog, logger *zap.Logger) *ToolHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolHandler{catalog: catalog, logger: logger.With(zap.String("component", "tool_handler"))}
}

// HandleList returns the caller's tool catalog. refresh=true bypasses the
// cache.
// @Summary List tools
// @Tags tools
// @Param refresh query bool false "skip the cache"
// @Success 200 {object} api.ToolList
// @Security BearerAuth
// @Router /api/v1/tools [get]
func (h *ToolHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r, h.logger)
	if !ok {
		return
	}
	if h.catalog == nil {
		WriteSuccess(w, r, api.ToolList{Tools: []types.ToolSchema{}})
		return
	}
	tools, err := h.catalog.ListTools(r.Context(), user, r.URL.Query().Get("refresh") != "true")
	if err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}
	if tools == nil {
		tools = []types.ToolSchema{}
	}
	WriteSuccess(w, r, api.ToolList{Tools: tools, Count: len(tools)})
}

// HandleClearCache drops the caller's cached catalog.
// @Summary Clear the tool catalog cache
// @Tags tools
// @Security BearerAuth
// @Router /api/v1/tools/cache/clear [post]
func (h *ToolHandler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r, h.logger)
	if !ok {
		return
	}
	if h.catalog != nil {
		if err := h.catalog.InvalidateTools(r.Context(), user); err != nil {
			WriteError(w, r, ToError(err), h.logger)
			return
		}
	}
	WriteSuccess(w, r, map[string]bool{"cleared": true})
}
