package planlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"tileforge.dev/internal/tiles/rules"
)

const Version = 1

// Header is the first line of a plan file.
type Header struct {
	Version     int    `json:"version"`
	Grid        string `json:"grid"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	GridDigest  string `json:"grid_digest"`
	RulesDigest string `json:"rules_digest"`
	CreatedAt   string `json:"created_at"`
}

// Placement is one resolved cell. Failed cells carry a Code and no Rect.
type Placement struct {
	X       int         `json:"x"`
	Y       int         `json:"y"`
	Block   string      `json:"block"`
	Mode    string      `json:"mode,omitempty"`
	Variant string      `json:"variant,omitempty"`
	State   int         `json:"state,omitempty"`
	Rect    *rules.Rect `json:"rect,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// WritePlan writes a header line followed by one placement per line.
func WritePlan(path string, h Header, placements []Placement) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 128*1024)
	je := json.NewEncoder(bw)

	if h.Version == 0 {
		h.Version = Version
	}
	if err := je.Encode(h); err != nil {
		_ = enc.Close()
		return err
	}
	for i := range placements {
		if err := je.Encode(&placements[i]); err != nil {
			_ = enc.Close()
			return fmt.Errorf("placement %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

// ScanPlan reads the header and streams placements to fn. Returning an error
// from fn stops the scan.
func ScanPlan(path string, fn func(Placement) error) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return Header{}, err
		}
		return Header{}, errors.New("plan: missing header")
	}
	var h Header
	if err := json.Unmarshal(sc.Bytes(), &h); err != nil {
		return Header{}, fmt.Errorf("%s: header: %w", filepath.Base(path), err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("unsupported plan version: %d", h.Version)
	}

	line := 1
	for sc.Scan() {
		line++
		var p Placement
		if err := json.Unmarshal(sc.Bytes(), &p); err != nil {
			return h, fmt.Errorf("%s:%d: unmarshal: %w", filepath.Base(path), line, err)
		}
		if err := fn(p); err != nil {
			return h, err
		}
	}
	return h, sc.Err()
}

// ReadPlan loads a whole plan file.
func ReadPlan(path string) (Header, []Placement, error) {
	var out []Placement
	h, err := ScanPlan(path, func(p Placement) error {
		out = append(out, p)
		return nil
	})
	if err != nil {
		return h, nil, err
	}
	return h, out, nil
}
