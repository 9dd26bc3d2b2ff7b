package updater

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestNeedsUpdate(t *testing.T) {
	tests := []struct {
		name    string
		current string
		latest  string
		want    bool
	}{
		{"same version", "v0.2.4", "v0.2.4", false},
		{"patch update", "v0.2.4", "v0.2.5", true},
		{"minor update", "v0.2.4", "v0.3.0", true},
		{"major update", "v0.2.4", "v1.0.0", true},
		{"current is newer", "v0.3.0", "v0.2.9", false},
		{"without v prefix", "0.2.4", "0.2.5", true},
		{"mixed prefixes", "v0.2.4", "0.2.5", true},
		{"dev build behind any release", "dev", "v0.1.0", true},
		{"dev to dev", "dev", "dev", false},
		{"multi-digit components", "v0.2.9", "v0.2.10", true},
		{"newer patch under older minor", "v0.3.1", "v0.2.9", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsUpdate(tt.current, tt.latest); got != tt.want {
				t.Errorf("NeedsUpdate(%q, %q) = %v, want %v", tt.current, tt.latest, got, tt.want)
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input string
		want  [3]int
	}{
		{"0.2.4", [3]int{0, 2, 4}},
		{"1.0.0", [3]int{1, 0, 0}},
		{"10.20.30", [3]int{10, 20, 30}},
		{"1.2", [3]int{1, 2, 0}},
		{"garbage", [3]int{0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseVersion(tt.input); got != tt.want {
				t.Errorf("parseVersion(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tag_name": "v0.3.0", "name": "v0.3.0"}`)
	}))
	defer srv.Close()

	u := &Updater{apiURL: srv.URL, check: srv.Client()}
	got, err := u.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got != "v0.3.0" {
		t.Errorf("Latest = %q, want v0.3.0", got)
	}
}

func TestLatestErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		default:
			fmt.Fprint(w, `{}`)
		}
	}))
	defer srv.Close()

	u := &Updater{apiURL: srv.URL + "/missing", check: srv.Client()}
	if _, err := u.Latest(); err == nil {
		t.Error("expected error for 404")
	}

	u = &Updater{apiURL: srv.URL, check: srv.Client()}
	if _, err := u.Latest(); err == nil {
		t.Error("expected error for release without tag")
	}
}

func buildArchive(t *testing.T, entryName, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	hdr := &tar.Header{
		Name:     entryName,
		Mode:     0o755,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestInstallReplacesBinary(t *testing.T) {
	// The release binary sits inside a directory, as goreleaser archives do.
	archive := buildArchive(t, "levelup_0.3.0_dir/levelup", "new binary contents")

	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Write(archive)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "levelup")
	if err := os.WriteFile(dest, []byte("old binary"), 0o755); err != nil {
		t.Fatal(err)
	}

	u := &Updater{downloadURL: srv.URL, download: srv.Client()}
	if err := u.Install("v0.3.0", dest); err != nil {
		t.Fatalf("Install: %v", err)
	}

	wantPath := fmt.Sprintf("/v0.3.0/levelup_0.3.0_%s_%s.tar.gz", runtime.GOOS, runtime.GOARCH)
	if requested != wantPath {
		t.Errorf("requested %q, want %q", requested, wantPath)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new binary contents" {
		t.Errorf("binary = %q, want replaced contents", got)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755 preserved", info.Mode().Perm())
	}
	if _, err := os.Stat(dest + ".old"); !os.IsNotExist(err) {
		t.Error("backup file left behind")
	}
}

func TestInstallMissingAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "levelup")
	if err := os.WriteFile(dest, []byte("old binary"), 0o755); err != nil {
		t.Fatal(err)
	}

	u := &Updater{downloadURL: srv.URL, download: srv.Client()}
	if err := u.Install("v9.9.9", dest); err == nil {
		t.Fatal("expected error for missing release asset")
	}

	got, _ := os.ReadFile(dest)
	if string(got) != "old binary" {
		t.Errorf("binary = %q, want untouched on failure", got)
	}
}

func TestInstallArchiveWithoutBinary(t *testing.T) {
	archive := buildArchive(t, "README.md", "docs only")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "levelup")
	if err := os.WriteFile(dest, []byte("old binary"), 0o755); err != nil {
		t.Fatal(err)
	}

	u := &Updater{downloadURL: srv.URL, download: srv.Client()}
	err := u.Install("v0.3.0", dest)
	if err == nil {
		t.Fatal("expected error when archive has no binary")
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "old binary" {
		t.Errorf("binary = %q, want untouched on failure", got)
	}
}
