// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package jobs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Run statuses.
const (
	RunStatusFinished = "FINISHED"
	RunStatusFailed   = "FAILED"
)

// RunRecord is the tracking entry of one training run. It is written as
// <tracking dir>/<experiment>/<run id>/run.json next to the logged artifacts.
type RunRecord struct {
	RunID      string             `json:"run_id"`
	RunName    string             `json:"run_name"`
	Experiment string             `json:"experiment"`
	ModelName  string             `json:"registered_model_name"`
	Status     string             `json:"status"`
	StartTime  time.Time          `json:"start_time"`
	EndTime    time.Time          `json:"end_time"`
	Params     map[string]string  `json:"params"`
	Metrics    map[string]float64 `json:"metrics"`
	Artifacts  []string           `json:"artifacts"`
}

// TrackingDir resolves a file tracking URI ("file:./mlruns",
// "file:///var/mlruns" or a bare path) to a directory.
func TrackingDir(uri string) (string, error) {
	switch {
	case strings.HasPrefix(uri, "file://"):
		return strings.TrimPrefix(uri, "file://"), nil
	case strings.HasPrefix(uri, "file:"):
		return strings.TrimPrefix(uri, "file:"), nil
	case strings.Contains(uri, "://"):
		return "", fmt.Errorf("unsupported tracking uri %q: only file tracking is supported", uri)
	case uri == "":
		return "", fmt.Errorf("tracking uri is empty")
	default:
		return uri, nil
	}
}

// RunDir returns the directory of rec under root.
func RunDir(root string, rec *RunRecord) string {
	return filepath.Join(root, rec.Experiment, rec.RunID)
}

// LogArtifact copies src into the run's artifacts/<subdir> directory and
// records its relative path.
func LogArtifact(root string, rec *RunRecord, src, subdir string) error {
	rel := filepath.Join("artifacts", subdir, filepath.Base(src))
	dst := filepath.Join(RunDir(root, rec), rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy artifact %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	rec.Artifacts = append(rec.Artifacts, filepath.ToSlash(rel))
	return nil
}

// WriteRunRecord writes run.json and returns its path.
func WriteRunRecord(root string, rec *RunRecord) (string, error) {
	dir := RunDir(root, rec)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode run record: %w", err)
	}
	path := filepath.Join(dir, "run.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write run record: %w", err)
	}
	return path, nil
}

// ReadRunRecord loads a run.json file.
func ReadRunRecord(path string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode run record %s: %w", path, err)
	}
	return &rec, nil
}
