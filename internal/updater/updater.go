// Package updater replaces the running levelup executable with a newer
// GitHub release.
package updater

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	githubRepo      = "hochfrequenz/levelup"
	binaryName      = "levelup"
	checkTimeout    = 10 * time.Second
	downloadTimeout = 5 * time.Minute
)

// Updater fetches release metadata and installs release binaries.
type Updater struct {
	apiURL      string
	downloadURL string
	check       *http.Client
	download    *http.Client
}

func New() *Updater {
	return &Updater{
		apiURL:      "https://api.github.com/repos/" + githubRepo + "/releases/latest",
		downloadURL: "https://github.com/" + githubRepo + "/releases/download",
		check:       &http.Client{Timeout: checkTimeout},
		download:    &http.Client{Timeout: downloadTimeout},
	}
}

type release struct {
	TagName string `json:"tag_name"`
}

// Latest returns the tag of the newest published release.
func (u *Updater) Latest() (string, error) {
	resp, err := u.check.Get(u.apiURL)
	if err != nil {
		return "", fmt.Errorf("check for updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", fmt.Errorf("parse release info: %w", err)
	}
	if rel.TagName == "" {
		return "", fmt.Errorf("release has no tag")
	}
	return rel.TagName, nil
}

// SelfUpdate installs the given release tag over the running executable.
func (u *Updater) SelfUpdate(version string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}
	return u.Install(version, exe)
}

// Install downloads the platform asset of a release and swaps it in at
// dest, restoring the previous binary when the swap fails.
func (u *Updater) Install(version, dest string) error {
	platform := fmt.Sprintf("%s_%s", runtime.GOOS, runtime.GOARCH)
	archiveName := fmt.Sprintf("%s_%s_%s.tar.gz", binaryName, strings.TrimPrefix(version, "v"), platform)
	url := fmt.Sprintf("%s/%s/%s", u.downloadURL, version, archiveName)

	tmpDir, err := os.MkdirTemp("", "levelup-update-*")
	if err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, archiveName)
	if err := u.fetch(url, archivePath); err != nil {
		return fmt.Errorf("download %s: %w", archiveName, err)
	}

	binPath := filepath.Join(tmpDir, binaryName)
	if err := extractBinary(archivePath, binPath); err != nil {
		return fmt.Errorf("extract update: %w", err)
	}

	if err := replaceBinary(dest, binPath); err != nil {
		return fmt.Errorf("install new binary: %w", err)
	}
	return nil
}

// NeedsUpdate reports whether latest is newer than current. Accepts
// versions with or without a leading v; a dev build is always behind any
// release.
func NeedsUpdate(current, latest string) bool {
	current = strings.TrimPrefix(current, "v")
	latest = strings.TrimPrefix(latest, "v")

	if current == "dev" {
		return latest != "dev"
	}

	cur := parseVersion(current)
	lat := parseVersion(latest)
	for i := 0; i < 3; i++ {
		if lat[i] > cur[i] {
			return true
		}
		if lat[i] < cur[i] {
			return false
		}
	}
	return false
}

func parseVersion(v string) [3]int {
	var parts [3]int
	fmt.Sscanf(v, "%d.%d.%d", &parts[0], &parts[1], &parts[2])
	return parts
}

func (u *Updater) fetch(url, dest string) error {
	resp, err := u.download.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

// extractBinary pulls the levelup binary out of a tar.gz archive. The
// binary may sit at the archive root or inside a directory.
func extractBinary(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != binaryName {
			continue
		}

		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	}
	return fmt.Errorf("binary %s not found in archive", binaryName)
}

// replaceBinary moves the old binary aside, copies the new one into place
// with the old one's permissions, and rolls back on failure. Copy instead
// of rename: the temp dir may be on another filesystem.
func replaceBinary(currentPath, newPath string) error {
	info, err := os.Stat(currentPath)
	if err != nil {
		return err
	}

	backupPath := currentPath + ".old"
	os.Remove(backupPath)

	if err := os.Rename(currentPath, backupPath); err != nil {
		return fmt.Errorf("back up current binary: %w", err)
	}
	if err := copyFile(newPath, currentPath, info.Mode()); err != nil {
		os.Rename(backupPath, currentPath)
		return err
	}
	os.Remove(backupPath)
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
