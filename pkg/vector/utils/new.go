// Package vectorutils builds a vector.Store from configuration.
package vectorutils

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/papercomputeco/semsearch/pkg/vector"
	"github.com/papercomputeco/semsearch/pkg/vector/memory"
	"github.com/papercomputeco/semsearch/pkg/vector/pgvector"
	"github.com/papercomputeco/semsearch/pkg/vector/qdrantvec"
	"github.com/papercomputeco/semsearch/pkg/vector/sqlitevec"
)

// Supported provider names.
const (
	ProviderMemory   = "memory"
	ProviderSQLite   = "sqlite"
	ProviderPostgres = "postgres"
	ProviderQdrant   = "qdrant"
)

// Providers lists the supported vector store providers.
var Providers = []string{ProviderMemory, ProviderSQLite, ProviderPostgres, ProviderQdrant}

type NewVectorStoreOpts struct {
	ProviderType string

	// Target is the sqlite path, postgres DSN or qdrant host:port.
	Target string

	Collection string
	Dimensions int
	APIKey     string
	Logger     *slog.Logger
}

func NewVectorStore(ctx context.Context, o *NewVectorStoreOpts) (vector.Store, error) {
	switch o.ProviderType {
	case ProviderMemory:
		return memory.NewStore(memory.Config{
			Collection: o.Collection,
			Dimensions: o.Dimensions,
			Logger:     o.Logger,
		}), nil

	case ProviderSQLite, "sqlite-vec":
		return sqlitevec.NewStore(ctx, sqlitevec.Config{
			DBPath:     o.Target,
			Collection: o.Collection,
			Dimensions: o.Dimensions,
			Logger:     o.Logger,
		})

	case ProviderPostgres, "pgvector":
		return pgvector.NewStore(ctx, pgvector.Config{
			DSN:        o.Target,
			Collection: o.Collection,
			Dimensions: o.Dimensions,
			Logger:     o.Logger,
		})

	case ProviderQdrant:
		host, port, useTLS, err := parseQdrantTarget(o.Target)
		if err != nil {
			return nil, err
		}
		return qdrantvec.NewStore(ctx, qdrantvec.Config{
			Host:       host,
			Port:       port,
			UseTLS:     useTLS,
			APIKey:     o.APIKey,
			Collection: o.Collection,
			Dimensions: o.Dimensions,
			Logger:     o.Logger,
		})

	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}

// parseQdrantTarget accepts "host", "host:port" or an http(s):// prefixed
// form of either. An https scheme enables TLS.
func parseQdrantTarget(target string) (string, int, bool, error) {
	useTLS := false
	switch {
	case strings.HasPrefix(target, "https://"):
		useTLS = true
		target = strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		target = strings.TrimPrefix(target, "http://")
	}
	target = strings.TrimSuffix(target, "/")

	if target == "" {
		return "localhost", qdrantvec.DefaultPort, useTLS, nil
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		// No port given.
		return target, qdrantvec.DefaultPort, useTLS, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}
	return host, port, useTLS, nil
}
