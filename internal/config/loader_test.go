package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "binary_path: /opt/llama-server\nmodel_path: /m/q.gguf\nport: 6000\nctx_size: 1024\nparallel: 4\ngpu_layers: -1\ncont_batching: false\ntimeout_sec: 60\nlog_level: debug\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BinaryPath != "/opt/llama-server" || cfg.ModelPath != "/m/q.gguf" || cfg.Port != 6000 || cfg.CtxSize != 1024 || cfg.Parallel != 4 || cfg.GPULayers != -1 || cfg.TimeoutSec != 60 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.ContBatching == nil || *cfg.ContBatching {
		t.Fatalf("cont_batching=false should parse as explicit false, got %v", cfg.ContBatching)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"repo":"Qwen/Qwen2-0.5B-Instruct-GGUF","filename":"q.gguf","working_dir":"~/llama","control_addr":":9090"}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Repo != "Qwen/Qwen2-0.5B-Instruct-GGUF" || cfg.Filename != "q.gguf" || cfg.WorkingDir != "~/llama" || cfg.ControlAddr != ":9090" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.ContBatching != nil {
		t.Fatalf("unset cont_batching should stay nil")
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "port=8081\nmodel_path=\"/x/m.gguf\"\ncont_batching=true\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8081 || cfg.ModelPath != "/x/m.gguf" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.ContBatching == nil || !*cfg.ContBatching {
		t.Fatalf("cont_batching=true should parse, got %v", cfg.ContBatching)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.ini", "port=1\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for .ini")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
