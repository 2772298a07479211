// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package jobs

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteNPY(t *testing.T) {
	t.Parallel()

	m := [][]float64{{1, 2, 3}, {-0.5, 0, 1e-3}}
	var buf bytes.Buffer
	if err := WriteNPY(&buf, m, 3); err != nil {
		t.Fatalf("WriteNPY() error = %v", err)
	}

	raw := buf.Bytes()
	if !bytes.HasPrefix(raw, []byte("\x93NUMPY\x01\x00")) {
		t.Fatalf("bad prefix %q", raw[:8])
	}
	headerLen := int(binary.LittleEndian.Uint16(raw[8:10]))
	if (10+headerLen)%64 != 0 {
		t.Errorf("data offset %d is not 64-byte aligned", 10+headerLen)
	}
	header := string(raw[10 : 10+headerLen])
	if !strings.HasPrefix(header, "{'descr': '<f4', 'fortran_order': False, 'shape': (2, 3), }") || !strings.HasSuffix(header, "\n") {
		t.Errorf("header = %q", header)
	}
	if got, want := len(raw)-10-headerLen, 2*3*4; got != want {
		t.Errorf("data bytes = %d, want %d", got, want)
	}

	back, err := ReadNPY(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadNPY() error = %v", err)
	}
	if len(back) != 2 || back[1][0] != -0.5 || back[0][2] != 3 || back[1][2] != float32(1e-3) {
		t.Errorf("ReadNPY() = %v", back)
	}
}

func TestWriteNPYRejectsRaggedRows(t *testing.T) {
	t.Parallel()

	if err := WriteNPY(&bytes.Buffer{}, [][]float64{{1, 2}, {3}}, 2); err == nil {
		t.Error("expected an error for a short row")
	}
}

func TestWriteNPYFileEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model", "empty.npy")
	if err := WriteNPYFile(path, nil, 64); err != nil {
		t.Fatalf("WriteNPYFile() error = %v", err)
	}
	back, err := ReadNPYFile(path)
	if err != nil {
		t.Fatalf("ReadNPYFile() error = %v", err)
	}
	if len(back) != 0 {
		t.Errorf("rows = %d, want 0", len(back))
	}
}
