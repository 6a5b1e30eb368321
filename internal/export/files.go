package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/repcount/internal/session"
)

// Artifacts lists the file kinds WriteAll produces, in order.
var Artifacts = []string{"events.parquet", "chart.html", "chart.png"}

// Render writes one artifact for s into buf.
func Render(buf *bytes.Buffer, s session.Summary, artifact string) error {
	switch artifact {
	case "events.parquet":
		data, err := Parquet(s)
		if err != nil {
			return err
		}
		buf.Write(data)
		return nil
	case "chart.html":
		return ProgressHTML(buf, s)
	case "chart.png":
		return ProgressPNG(buf, s)
	}
	return fmt.Errorf("unknown export %q", artifact)
}

// ContentType returns the MIME type served for an artifact.
func ContentType(artifact string) string {
	switch artifact {
	case "events.parquet":
		return "application/vnd.apache.parquet"
	case "chart.html":
		return "text/html; charset=utf-8"
	case "chart.png":
		return "image/png"
	}
	return "application/octet-stream"
}

// FileName builds a filesystem-safe name such as
// "2026-03-01_squat_3f2a.events.parquet".
func FileName(s session.Summary, artifact string) string {
	id := s.ID
	if len(id) > 8 {
		id = id[:8]
	}
	base := fmt.Sprintf("%s_%s_%s", s.StartedAt.UTC().Format("2006-01-02"), strings.ToLower(s.Exercise), id)
	return sanitizeFilename(base) + "." + artifact
}

// WriteAll renders every artifact for s into dir and returns the paths
// written. dir is created if missing.
func WriteAll(dir string, s session.Summary) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for _, artifact := range Artifacts {
		path := filepath.Join(dir, FileName(s, artifact))
		if err := withinDir(path, dir); err != nil {
			return paths, err
		}
		var buf bytes.Buffer
		if err := Render(&buf, s, artifact); err != nil {
			return paths, fmt.Errorf("render %s: %w", artifact, err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// withinDir rejects paths that resolve outside dir, following symlinks on
// dir itself.
func withinDir(path, dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if resolved, err := filepath.EvalSymlinks(absDir); err == nil {
		absDir = resolved
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if resolved, err := filepath.EvalSymlinks(filepath.Dir(absPath)); err == nil {
		absPath = filepath.Join(resolved, filepath.Base(absPath))
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return fmt.Errorf("path is outside export directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, dir)
	}
	return nil
}

// sanitizeFilename keeps ASCII letters, digits and dash, collapsing every
// other run of characters into one underscore.
func sanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'), r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "session"
	}
	return out
}
