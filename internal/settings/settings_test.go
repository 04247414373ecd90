package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if s.Index.Path != filepath.Join("data", "index", "tiles.sqlite") {
		t.Fatalf("index path=%q", s.Index.Path)
	}
	if s.Session.ReadTimeout() != 60*time.Second {
		t.Fatalf("read timeout=%s", s.Session.ReadTimeout())
	}
}

func TestLoad_SampleFile(t *testing.T) {
	s, err := Load("../../configs/server.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Listen != ":8080" || s.Rules != "configs/tile_rules.json" || !s.ResolveLog {
		t.Fatalf("settings=%+v", s)
	}
	if s.Session.MaxWidth != 1024 || s.Session.MaxTargets != 4096 {
		t.Fatalf("session=%+v", s.Session)
	}
}

func TestLoad_PartialOverridesKeepDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "server.yaml")
	doc := "listen: \" :9000 \"\ndata_dir: /tmp/tf\nsession:\n  max_targets: 10\n  max_queue: 0\n"
	if err := os.WriteFile(p, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Listen != ":9000" {
		t.Fatalf("listen=%q", s.Listen)
	}
	if s.Session.MaxTargets != 10 || s.Session.DefaultWidth != 64 || s.Session.MaxQueue != 16 {
		t.Fatalf("session=%+v", s.Session)
	}
	if s.Index.Path != filepath.Join("/tmp/tf", "index", "tiles.sqlite") {
		t.Fatalf("index path=%q", s.Index.Path)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"empty listen", "listen: \"\"\n", "listen"},
		{"max below default", "session:\n  default_width: 100\n  max_width: 50\n", "smaller than default"},
		{"bad yaml", "session: [\n", "server.yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "server.yaml")
			if err := os.WriteFile(p, []byte(tc.doc), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(p)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want %q", err, tc.want)
			}
		})
	}
}
