package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"tileforge.dev/internal/tiles/rules"
	"tileforge.dev/internal/transport/ws"
)

type runtimeState struct {
	rules     *rules.Model
	rulesPath string
	ws        *ws.Server
	idx       runtimeIndex
}

func metricsHandler(rt *runtimeState) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP tileforge_sessions Current number of websocket sessions.\n")
		fmt.Fprintf(rw, "# TYPE tileforge_sessions gauge\n")
		fmt.Fprintf(rw, "tileforge_sessions %d\n", rt.ws.Sessions())

		fmt.Fprintf(rw, "# HELP tileforge_rules_modes Tile modes in the loaded rules.\n")
		fmt.Fprintf(rw, "# TYPE tileforge_rules_modes gauge\n")
		fmt.Fprintf(rw, "tileforge_rules_modes{digest=%q} %d\n", rt.rules.Digest(), len(rt.rules.Modes()))

		fmt.Fprintf(rw, "# HELP tileforge_rules_block_types Block types in the loaded rules.\n")
		fmt.Fprintf(rw, "# TYPE tileforge_rules_block_types gauge\n")
		fmt.Fprintf(rw, "tileforge_rules_block_types{digest=%q} %d\n", rt.rules.Digest(), len(rt.rules.BlockTypes()))

		if rt.idx == nil {
			return
		}
		s := rt.idx.Stats()
		fmt.Fprintf(rw, "# HELP tileforge_index_queue_depth Current index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE tileforge_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "tileforge_index_queue_depth %d\n", s.QueueDepth)

		fmt.Fprintf(rw, "# HELP tileforge_index_queue_capacity Index writer queue capacity.\n")
		fmt.Fprintf(rw, "# TYPE tileforge_index_queue_capacity gauge\n")
		fmt.Fprintf(rw, "tileforge_index_queue_capacity %d\n", s.QueueCapacity)

		fmt.Fprintf(rw, "# HELP tileforge_index_resolve_dropped_total Resolutions dropped because the index queue was full.\n")
		fmt.Fprintf(rw, "# TYPE tileforge_index_resolve_dropped_total counter\n")
		fmt.Fprintf(rw, "tileforge_index_resolve_dropped_total %d\n", s.DropResolveTotal)
	}
}

// rulesHandler describes the loaded rules. Loopback only.
func rulesHandler(rt *runtimeState) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		type modeInfo struct {
			Name       string   `json:"name"`
			Kind       string   `json:"kind"`
			Variants   []string `json:"variants,omitempty"`
			StateCount int      `json:"state_count,omitempty"`
		}
		resp := struct {
			Path        string     `json:"path"`
			Digest      string     `json:"digest"`
			Modes       []modeInfo `json:"modes"`
			BlockTypes  []string   `json:"block_types"`
			SolidBlocks []string   `json:"solid_blocks"`
		}{
			Path:        rt.rulesPath,
			Digest:      rt.rules.Digest(),
			BlockTypes:  rt.rules.BlockTypes(),
			SolidBlocks: rt.rules.SolidBlocks(),
		}
		for _, name := range rt.rules.Modes() {
			m, _ := rt.rules.Mode(name)
			resp.Modes = append(resp.Modes, modeInfo{Name: name, Kind: m.Kind.String(), Variants: m.Variants(), StateCount: m.StateCount})
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
