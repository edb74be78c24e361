package api

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/semsearch/pkg/document"
	"github.com/papercomputeco/semsearch/pkg/search"
	"github.com/papercomputeco/semsearch/pkg/vector"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse wraps search.Status with an overall health flag.
type StatusResponse struct {
	search.Status
	Healthy bool `json:"healthy"`
}

// TagsResponse lists the distinct tags in the index.
type TagsResponse struct {
	Tags  []string `json:"tags"`
	Count int      `json:"count"`
}

// DeleteResponse reports how many points a delete removed.
type DeleteResponse struct {
	Deleted   uint64   `json:"deleted"`
	Remaining uint64   `json:"remaining"`
	Tags      []string `json:"tags,omitempty"`
	Sources   []string `json:"sources,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleSearchQuery handles GET /v1/search.
// Query parameters:
//   - query (required): the search query text
//   - limit (optional): number of results to return
//   - tags (optional): comma separated key:value tags, all must match
//   - source (optional): comma separated source kinds
//   - min_score (optional): drop results scoring below this
func (s *Server) handleSearchQuery(c *fiber.Ctx) error {
	req := search.Request{
		Text:        c.Query("query"),
		Tags:        splitList(c.Query("tags")),
		SourceKinds: splitList(c.Query("source")),
	}

	if limit := c.Query("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		req.Limit = parsed
	}

	if minScore := c.Query("min_score"); minScore != "" {
		parsed, err := strconv.ParseFloat(minScore, 32)
		if err != nil {
			return badRequest(c, "min_score must be a number")
		}
		score := float32(parsed)
		req.MinScore = &score
	}

	return s.search(c, req)
}

// handleSearchBody handles POST /v1/search with a JSON search.Request.
func (s *Server) handleSearchBody(c *fiber.Ctx) error {
	var req search.Request
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Limit < 0 {
		return badRequest(c, "limit must be a positive integer")
	}
	return s.search(c, req)
}

func (s *Server) search(c *fiber.Ctx, req search.Request) error {
	results, err := s.config.Search.Search(c.Context(), req)
	switch {
	case err == nil:
		return c.JSON(results)
	case errors.Is(err, search.ErrEmptyQuery):
		return badRequest(c, "query parameter is required")
	case errors.Is(err, document.ErrInvalidTag):
		return badRequest(c, err.Error())
	case errors.Is(err, vector.ErrDimensionMismatch):
		s.logger.Error("query embedding does not fit the collection", "error", err)
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	default:
		s.logger.Error("search failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
}

// handleStatus reports daemon and store health. Unhealthy answers 503 with
// the same body so health checkers can read the details.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	st := s.config.Search.Status(c.Context())
	resp := StatusResponse{Status: st, Healthy: st.Healthy()}
	if !resp.Healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

// handleTags lists every distinct tag.
func (s *Server) handleTags(c *fiber.Ctx) error {
	tags, err := s.config.Store.ListTags(c.Context())
	if err != nil {
		s.logger.Error("failed to list tags", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list tags"})
	}
	if tags == nil {
		tags = []string{}
	}
	return c.JSON(TagsResponse{Tags: tags, Count: len(tags)})
}

// handleDeletePoints handles DELETE /v1/points. At least one of tags or
// source is required; when both are given both deletes run.
func (s *Server) handleDeletePoints(c *fiber.Ctx) error {
	ctx := c.Context()

	rawTags := splitList(c.Query("tags"))
	sources := splitList(c.Query("source"))
	if len(rawTags) == 0 && len(sources) == 0 {
		return badRequest(c, "tags or source is required")
	}

	tags, err := document.ParseTagList(rawTags)
	if err != nil {
		return badRequest(c, err.Error())
	}

	kinds := make([]string, 0, len(sources))
	for _, src := range sources {
		kinds = append(kinds, document.ParseSourceKind(src).String())
	}

	before, err := s.config.Store.Count(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	if len(tags) > 0 {
		if err := s.config.Store.DeleteByTags(ctx, document.TagStrings(tags)); err != nil {
			s.logger.Error("failed to delete by tags", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
		}
	}
	if len(kinds) > 0 {
		if err := s.config.Store.DeleteBySourceKinds(ctx, kinds); err != nil {
			s.logger.Error("failed to delete by source", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
		}
	}

	after, err := s.config.Store.Count(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	s.logger.Info("deleted points",
		"tags", rawTags,
		"sources", kinds,
		"deleted", before-after,
	)

	return c.JSON(DeleteResponse{
		Deleted:   before - after,
		Remaining: after,
		Tags:      document.TagStrings(tags),
		Sources:   kinds,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg})
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
