package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"tileforge.dev/internal/persistence/indexdb"
	"tileforge.dev/internal/persistence/planlog"
	"tileforge.dev/internal/settings"
	"tileforge.dev/internal/tiles/rules"
)

type runtimeIndex interface {
	RecordResolve(planlog.ResolveEntry)
	UpsertRules(ctx context.Context, name string, m *rules.Model, raw []byte) error
	Stats() indexdb.QueueStats
	Close() error
}

func openRuntimeIndex(cfg settings.Settings, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB || !cfg.Index.Enabled {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TF_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		logger.Printf("index backend disabled (TF_INDEX_BACKEND=%s)", backend)
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(cfg.Index.Path)
	default:
		return nil, fmt.Errorf("unsupported TF_INDEX_BACKEND: %s", backend)
	}
}
