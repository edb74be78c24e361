// Package api provides the HTTP API for searching and managing the index.
package api

import (
	"github.com/papercomputeco/semsearch/pkg/search"
	"github.com/papercomputeco/semsearch/pkg/vector"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8082")
	ListenAddr string

	// Search answers /v1/search and /v1/status.
	Search *search.Service

	// Store backs the delete and tag listing endpoints.
	Store vector.Store

	// DisableMCP leaves /mcp unmounted.
	DisableMCP bool
}
