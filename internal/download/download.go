// Package download fetches the llama-server binary and model weights.
// Both entry points are no-ops when the destination already exists, so the
// lifecycle layer can call them unconditionally.
package download

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"llamactl/internal/common/fsutil"
)

// Overridable in tests.
var (
	hfBaseURL      = "https://huggingface.co"
	releaseBaseURL = "https://github.com/ggml-org/llama.cpp/releases/download"
)

// releaseTag pins the llama.cpp release the binary is fetched from.
const releaseTag = "b4689"

var httpClient = &http.Client{}

// Model downloads a .gguf weights file from a HuggingFace repo, e.g.
// repo "Qwen/Qwen2-0.5B-Instruct-GGUF", filename "qwen2-0_5b-instruct-q4_0.gguf".
// No-op if dest already exists. Honors HF_TOKEN for gated repos.
func Model(ctx context.Context, dest, repo, filename string) error {
	if fsutil.PathExists(dest) {
		return nil
	}
	if repo == "" || filename == "" {
		return fmt.Errorf("model download needs repo and filename, got %q/%q", repo, filename)
	}
	url := fmt.Sprintf("%s/%s/resolve/main/%s", hfBaseURL, repo, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if tk := os.Getenv("HF_TOKEN"); tk != "" {
		req.Header.Set("Authorization", "Bearer "+tk)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download model %s: %s", url, resp.Status)
	}
	return writeAtomic(dest, resp.Body, 0o644)
}

// Binary downloads the llama-server release archive for this OS/arch and
// extracts the server executable to dest. No-op if dest already exists.
func Binary(ctx context.Context, dest string) error {
	if fsutil.PathExists(dest) {
		return nil
	}
	asset, err := releaseAsset()
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%s/llama-%s-bin-%s.zip", releaseBaseURL, releaseTag, releaseTag, asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download binary: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download binary %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "llama-server-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("save archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return extractServer(tmp.Name(), dest)
}

// releaseAsset maps GOOS/GOARCH to the archive name suffix used by llama.cpp releases.
func releaseAsset() (string, error) {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "linux/amd64":
		return "ubuntu-x64", nil
	case "darwin/arm64":
		return "macos-arm64", nil
	case "darwin/amd64":
		return "macos-x64", nil
	case "windows/amd64":
		return "win-avx2-x64", nil
	default:
		return "", fmt.Errorf("no prebuilt llama-server for %s/%s; build it yourself and pass an explicit binary path", runtime.GOOS, runtime.GOARCH)
	}
}

// extractServer pulls the llama-server member out of the release zip.
func extractServer(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		name := path.Base(f.Name)
		if name != "llama-server" && name != "llama-server.exe" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		werr := writeAtomic(dest, rc, 0o755)
		rc.Close()
		return werr
	}
	return fmt.Errorf("llama-server not found in %s", archive)
}

// writeAtomic writes r to a sibling temp file and renames it into place, so a
// torn download never masquerades as an existing resource.
func writeAtomic(dest string, r io.Reader, mode os.FileMode) error {
	dir := filepath.Dir(dest)
	if err := fsutil.EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(dest), filepath.Ext(dest))+"-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
