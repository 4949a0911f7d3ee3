// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/resgraph/services/resources/manager"
	"github.com/AleutianAI/resgraph/services/resources/schema"
	"github.com/AleutianAI/resgraph/services/resources/telemetry"
)

// ResourceSummary is the list form of a resource.
type ResourceSummary struct {
	Path      string `json:"path"`
	Type      string `json:"type"`
	Active    bool   `json:"active"`
	Reference bool   `json:"reference"`
}

// ResourceView is the detail form of a resource.
type ResourceView struct {
	Path         string            `json:"path"`
	Location     string            `json:"location"`
	Type         string            `json:"type"`
	Active       bool              `json:"active"`
	Reference    bool              `json:"reference"`
	Decorator    bool              `json:"decorator"`
	Recording    bool              `json:"recording"`
	Value        any               `json:"value,omitempty"`
	Children     []ResourceSummary `json:"children"`
	ReferencedBy []string          `json:"referenced_by"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func summarize(r *manager.Resource) ResourceSummary {
	return ResourceSummary{
		Path:      r.Path(),
		Type:      r.Type(),
		Active:    r.IsActive(),
		Reference: r.IsReference(false),
	}
}

func summarizeAll(rs []*manager.Resource) []ResourceSummary {
	out := make([]ResourceSummary, 0, len(rs))
	for _, r := range rs {
		out = append(out, summarize(r))
	}
	return out
}

// statusOf maps resource errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, manager.ErrNotFound), errors.Is(err, manager.ErrVirtualResource):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrInvalidName), errors.Is(err, manager.ErrInvalidType):
		return http.StatusBadRequest
	case errors.Is(err, manager.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, manager.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		telemetry.LoggerWithTrace(c.Request.Context(), s.logger).Error("admin request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err))
	}
	c.JSON(code, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"revision": s.engine.Revision(),
	})
}

func (s *Server) handleTypes(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Registry().Types())
}

func (s *Server) handleTopLevel(c *gin.Context) {
	typ := c.Query("type")
	if typ != "" && !s.engine.Registry().Has(typ) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown type " + typ})
		return
	}
	c.JSON(http.StatusOK, summarizeAll(s.rm.TopLevelResources(typ)))
}

func (s *Server) handleResource(c *gin.Context) {
	path := strings.Trim(c.Param("path"), "/")
	r, err := s.rm.GetResource(path)
	if err != nil {
		s.fail(c, err)
		return
	}
	view := ResourceView{
		Path:      r.Path(),
		Location:  r.Location(),
		Type:      r.Type(),
		Active:    r.IsActive(),
		Reference: r.IsReference(false),
		Decorator: r.IsDecorator(),
		Recording: r.IsRecording(),
		Children:  summarizeAll(r.SubResources(false)),
	}
	if s.engine.Registry().ValueKind(view.Type) != schema.KindNone {
		v, err := r.Value()
		if err != nil {
			s.fail(c, err)
			return
		}
		view.Value = v
	}
	view.ReferencedBy = make([]string, 0)
	for _, ref := range r.ReferencingResources() {
		view.ReferencedBy = append(view.ReferencedBy, ref.Path())
	}
	c.JSON(http.StatusOK, view)
}
