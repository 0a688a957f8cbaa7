// Package report persists finished validation sessions to disk and hands the
// archive to the configured uploader.
package report

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qvet/internal/rewrite"
	"qvet/internal/runinfo"
	"qvet/internal/util"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	SessionArchiveName  = "session.tar.zst"
	SessionArchiveCodec = "zstd"
)

// Uploader pushes a finished session archive to external storage.
type Uploader interface {
	UploadDir(ctx context.Context, sessionID string, dir string) (location string, err error)
}

// Reporter writes session artifacts to disk.
type Reporter struct {
	OutputDir string
	Archive   bool
	RunInfo   *runinfo.BasicInfo
	Uploader  Uploader

	sessionSeq int
}

// Summary is the persisted metadata for one session.
type Summary struct {
	SessionID      string                    `json:"session_id"`
	OriginalSQL    string                    `json:"original_sql"`
	Candidates     []rewrite.CandidateReport `json:"candidates"`
	Counts         map[string]int            `json:"counts"`
	ArchiveName    string                    `json:"archive_name,omitempty"`
	ArchiveCodec   string                    `json:"archive_codec,omitempty"`
	UploadLocation string                    `json:"upload_location,omitempty"`
	RunInfo        *runinfo.BasicInfo        `json:"run_info,omitempty"`
	Timestamp      string                    `json:"timestamp"`
}

// New creates a reporter that writes under outputDir.
func New(outputDir string, archive bool) *Reporter {
	return &Reporter{OutputDir: outputDir, Archive: archive}
}

// Write persists one session: per-candidate SQL files, summary.json, and the
// optional compressed archive. Upload failures are logged, not fatal.
func (r *Reporter) Write(ctx context.Context, originalSQL string, reports []rewrite.CandidateReport) error {
	r.sessionSeq++
	sessionID := uuid.New().String()
	if v7, err := uuid.NewV7(); err == nil {
		sessionID = v7.String()
	}
	dir := filepath.Join(r.OutputDir, fmt.Sprintf("session_%04d_%s", r.sessionSeq, sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := writeSQL(dir, "original.sql", originalSQL); err != nil {
		return err
	}
	for i, rep := range reports {
		name := fmt.Sprintf("candidate_%02d_%s.sql", i, rep.Classification)
		if err := writeSQL(dir, name, rep.Candidate.SQL); err != nil {
			return err
		}
	}

	summary := Summary{
		SessionID:   sessionID,
		OriginalSQL: originalSQL,
		Candidates:  reports,
		Counts:      countByClass(reports),
		RunInfo:     r.RunInfo,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if r.Archive {
		summary.ArchiveName = SessionArchiveName
		summary.ArchiveCodec = SessionArchiveCodec
	}
	if err := writeSummary(dir, summary); err != nil {
		return err
	}

	if r.Archive {
		if err := writeSessionArchive(dir); err != nil {
			return err
		}
	}

	if r.Uploader != nil {
		location, err := r.Uploader.UploadDir(ctx, sessionID, dir)
		if err != nil {
			util.Errorf("upload session %s: %v", sessionID, err)
		} else if location != "" {
			summary.UploadLocation = location
			if err := writeSummary(dir, summary); err != nil {
				return err
			}
			util.Infof("session uploaded location=%s", location)
		}
	}
	util.Infof("session report written dir=%s", dir)
	return nil
}

func countByClass(reports []rewrite.CandidateReport) map[string]int {
	counts := make(map[string]int, len(reports))
	for _, rep := range reports {
		counts[string(rep.Classification)]++
	}
	return counts
}

func writeSummary(dir string, summary Summary) error {
	f, err := os.Create(filepath.Join(dir, "summary.json"))
	if err != nil {
		return err
	}
	defer util.CloseWithErr(f, "summary output")
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(summary)
}

func writeSQL(dir, name, sqlText string) error {
	content := strings.TrimRight(strings.TrimSpace(sqlText), ";") + ";\n"
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

// writeSessionArchive packs the session directory into session.tar.zst,
// skipping the archive itself.
func writeSessionArchive(dir string) (err error) {
	archivePath := filepath.Join(dir, SessionArchiveName)
	if removeErr := os.Remove(archivePath); removeErr != nil && !os.IsNotExist(removeErr) {
		return removeErr
	}
	defer func() {
		if err != nil {
			_ = os.Remove(archivePath)
		}
	}()
	file, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(file, "archive output")

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := zw.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	tw := tar.NewWriter(zw)
	defer func() {
		if closeErr := tw.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || path == archivePath {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		if _, err := io.Copy(tw, src); err != nil {
			util.CloseWithErr(src, "archive source")
			return err
		}
		util.CloseWithErr(src, "archive source")
		return nil
	})
}
