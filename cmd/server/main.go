package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tileforge.dev/internal/persistence/planlog"
	"tileforge.dev/internal/settings"
	"tileforge.dev/internal/tiles/rules"
	"tileforge.dev/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.yaml", "server settings path")
		addr       = flag.String("addr", "", "http listen address (overrides settings)")
		rulesPath  = flag.String("rules", "", "tile rules document (overrides settings)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides settings)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := settings.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load settings: %v", err)
		}
		logger.Printf("settings not found (%s); using defaults", *configPath)
		cfg, _ = settings.Load("")
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(*rulesPath); v != "" {
		cfg.Rules = v
	}
	if v := strings.TrimSpace(*dataDir); v != "" {
		cfg.DataDir = v
		cfg.Index.Path = ""
		cfg.Normalize()
	}

	m, raw, err := loadRules(cfg.Rules, logger)
	if err != nil {
		logger.Fatalf("load rules: %v", err)
	}
	logger.Printf("rules loaded digest=%s modes=%d block_types=%d", m.Digest(), len(m.Modes()), len(m.BlockTypes()))

	idx, err := openRuntimeIndex(cfg, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertRules(context.Background(), "tile_rules", m, raw); err != nil {
			logger.Printf("index backend: upsert rules: %v", err)
		}
	}

	wsSrv := ws.NewServer(m, ws.Config{
		DefaultWidth:  cfg.Session.DefaultWidth,
		DefaultHeight: cfg.Session.DefaultHeight,
		MaxWidth:      cfg.Session.MaxWidth,
		MaxHeight:     cfg.Session.MaxHeight,
		MaxTargets:    cfg.Session.MaxTargets,
		MaxQueue:      cfg.Session.MaxQueue,
		ReadTimeout:   cfg.Session.ReadTimeout(),
	}, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))
	if idx != nil {
		wsSrv.AddRecorder(idx)
	}
	if cfg.ResolveLog {
		resolveLog := planlog.NewResolveLogger(cfg.DataDir)
		defer resolveLog.Close()
		wsSrv.SetResolveLog(resolveLog)
	}

	rt := &runtimeState{rules: m, rulesPath: cfg.Rules, ws: wsSrv, idx: idx}

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(rt))

	if envBool("TF_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/rules", rulesHandler(rt))
	} else {
		logger.Printf("admin endpoints disabled (TF_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("TF_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// loadRules reads the rules document at path. A missing file falls back to the
// built-in rules; any other failure is fatal to startup.
func loadRules(path string, logger *log.Logger) (*rules.Model, []byte, error) {
	if strings.TrimSpace(path) == "" {
		logger.Printf("no rules path; using built-in rules")
		return rules.Default(), rules.DefaultDocument(), nil
	}
	m, err := rules.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Printf("rules not found (%s); using built-in rules", filepath.Base(path))
			return rules.Default(), rules.DefaultDocument(), nil
		}
		return nil, nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return m, raw, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
