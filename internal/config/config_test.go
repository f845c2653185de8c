package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	kilnerrors "github.com/kiln-build/kiln/internal/errors"
)

func TestNormalize_Defaults(t *testing.T) {
	cfg, err := Normalize(ServerOptions{}, "")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.Host != DefaultHost {
		t.Errorf("Host = %q, want %q", cfg.Host, DefaultHost)
	}
	if cfg.Protocol != "http" {
		t.Errorf("Protocol = %q, want %q", cfg.Protocol, "http")
	}
	if cfg.Hostname != "localhost" {
		t.Errorf("Hostname = %q, want %q", cfg.Hostname, "localhost")
	}
	if !cfg.Banner {
		t.Error("Banner should default to true")
	}
	if cfg.HMR == nil {
		t.Fatal("HMR should be enabled by default")
	}
	if cfg.HMR.Path != DefaultHMRPath {
		t.Errorf("HMR.Path = %q, want %q", cfg.HMR.Path, DefaultHMRPath)
	}
	if cfg.HMR.Port != DefaultHMRPort {
		t.Errorf("HMR.Port = %d, want %d", cfg.HMR.Port, DefaultHMRPort)
	}
	if cfg.HMR.Timeout != DefaultHMRTimeout {
		t.Errorf("HMR.Timeout = %v, want %v", cfg.HMR.Timeout, DefaultHMRTimeout)
	}
}

func TestNormalize_Protocol(t *testing.T) {
	cfg, err := Normalize(ServerOptions{HTTPS: true}, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Protocol != "https" {
		t.Errorf("Protocol = %q, want %q", cfg.Protocol, "https")
	}
}

func TestNormalize_WildcardHostname(t *testing.T) {
	tests := []struct {
		host         string
		wantHost     string
		wantHostname string
	}{
		{"0.0.0.0", "0.0.0.0", "localhost"},
		{"::", "::", "localhost"},
		{"[::]", "[::]", "localhost"},
		{"127.0.0.1", "127.0.0.1", "127.0.0.1"},
		{"dev.example.com", "dev.example.com", "dev.example.com"},
	}

	for _, tt := range tests {
		cfg, err := Normalize(ServerOptions{Host: tt.host}, "")
		if err != nil {
			t.Fatalf("Normalize(%q): %v", tt.host, err)
		}
		if cfg.Host != tt.wantHost {
			t.Errorf("Host = %q, want %q (bind address must stay literal)", cfg.Host, tt.wantHost)
		}
		if cfg.Hostname != tt.wantHostname {
			t.Errorf("Hostname(%q) = %q, want %q", tt.host, cfg.Hostname, tt.wantHostname)
		}
	}
}

func TestNormalize_HMRSubOptions(t *testing.T) {
	overlay := false
	cfg, err := Normalize(ServerOptions{
		HMR: HMRSetting{Options: &HMROptions{Port: 9901, Timeout: 5, Overlay: &overlay}},
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HMR.Port != 9901 {
		t.Errorf("HMR.Port = %d, want 9901", cfg.HMR.Port)
	}
	if cfg.HMR.Timeout != 5*time.Second {
		t.Errorf("HMR.Timeout = %v, want 5s", cfg.HMR.Timeout)
	}
	if cfg.HMR.Overlay {
		t.Error("HMR.Overlay should be false")
	}
	// absent sub-options still defaulted
	if cfg.HMR.Path != DefaultHMRPath {
		t.Errorf("HMR.Path = %q, want %q", cfg.HMR.Path, DefaultHMRPath)
	}
}

func TestNormalize_HMRDisabled(t *testing.T) {
	cfg, err := Normalize(ServerOptions{HMR: HMRSetting{Disabled: true}}, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HMR != nil {
		t.Error("HMR should be nil when disabled")
	}
}

func TestNormalize_InvalidPort(t *testing.T) {
	tests := []int{-1, -9000, 70000}
	for _, port := range tests {
		_, err := Normalize(ServerOptions{Port: port}, "")
		if err == nil {
			t.Errorf("Normalize(port=%d) should fail", port)
			continue
		}
		if kilnerrors.CodeOf(err) != "E101" {
			t.Errorf("Normalize(port=%d) code = %q, want E101", port, kilnerrors.CodeOf(err))
		}
	}
}

func TestHMRSetting_JSON(t *testing.T) {
	var opts ServerOptions
	if err := json.Unmarshal([]byte(`{"hmr": false}`), &opts); err != nil {
		t.Fatal(err)
	}
	if !opts.HMR.Disabled {
		t.Error("hmr: false should disable the channel")
	}

	var opts2 ServerOptions
	if err := json.Unmarshal([]byte(`{"hmr": {"port": 9901}}`), &opts2); err != nil {
		t.Fatal(err)
	}
	if opts2.HMR.Disabled {
		t.Error("hmr object should not disable the channel")
	}
	if opts2.HMR.Options == nil || opts2.HMR.Options.Port != 9901 {
		t.Error("hmr object options not parsed")
	}

	var opts3 ServerOptions
	if err := json.Unmarshal([]byte(`{"hmr": true}`), &opts3); err != nil {
		t.Fatal(err)
	}
	if opts3.HMR.Disabled || opts3.HMR.Options != nil {
		t.Error("hmr: true should mean all defaults")
	}
}

func TestNormalizePublicPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://cdn.example.com/assets", "/"},
		{"http://cdn.example.com", "/"},
		{"assets", "/assets"},
		{"/assets", "/assets"},
		{"", "/"},
	}

	for _, tt := range tests {
		if got := NormalizePublicPath(tt.in); got != tt.want {
			t.Errorf("NormalizePublicPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsAbsoluteURL(t *testing.T) {
	if !IsAbsoluteURL("https://cdn.example.com/assets") {
		t.Error("absolute URL not detected")
	}
	if IsAbsoluteURL("/assets") {
		t.Error("path should not be an absolute URL")
	}
	if IsAbsoluteURL("assets") {
		t.Error("bare segment should not be an absolute URL")
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ConfigFileName)
	content := `{
		"name": "demo",
		"publicPath": "assets",
		"server": {"port": 3100, "host": "0.0.0.0", "strictPort": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Name != "demo" {
		t.Errorf("Name = %q, want %q", f.Name, "demo")
	}
	if f.Server.Port != 3100 {
		t.Errorf("Server.Port = %d, want 3100", f.Server.Port)
	}
	if f.Dir() != tmpDir {
		t.Errorf("Dir() = %q, want %q", f.Dir(), tmpDir)
	}
	if f.Build.Entry == "" || f.Build.OutDir == "" {
		t.Error("build defaults should be applied")
	}
}

func TestLoad_Malformed(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ConfigFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load should fail on malformed JSON")
	}
	if kilnerrors.CodeOf(err) != "E102" {
		t.Errorf("code = %q, want E102", kilnerrors.CodeOf(err))
	}
}
