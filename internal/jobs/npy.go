// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package jobs

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// NPY v1.0 layout: magic, version, little-endian header length, a Python
// dict literal padded with spaces to a 64 byte boundary and ending in '\n',
// then the raw array data.
const (
	npyMagic     = "\x93NUMPY"
	npyAlignment = 64
	npyPrefixLen = len(npyMagic) + 2 + 2
)

var errBadNPY = errors.New("npy: unsupported file")

// WriteNPY writes m as a float32 C-order array of shape (len(m), cols).
// Every row must have cols values.
func WriteNPY(w io.Writer, m [][]float64, cols int) error {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", len(m), cols)
	pad := npyAlignment - (npyPrefixLen+len(header)+1)%npyAlignment
	if pad == npyAlignment {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"
	if len(header) > math.MaxUint16 {
		return fmt.Errorf("npy: header too long")
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(npyMagic)
	bw.Write([]byte{1, 0})
	var hl [2]byte
	binary.LittleEndian.PutUint16(hl[:], uint16(len(header))) //nolint:gosec // bounded above
	bw.Write(hl[:])
	bw.WriteString(header)

	var buf [4]byte
	for i, row := range m {
		if len(row) != cols {
			return fmt.Errorf("npy: row %d has %d values, want %d", i, len(row), cols)
		}
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(v)))
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// WriteNPYFile writes m to path atomically.
func WriteNPYFile(path string, m [][]float64, cols int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".npy-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if err := WriteNPY(tmp, m, cols); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadNPY reads a 2-D float32 array written by WriteNPY.
func ReadNPY(r io.Reader) ([][]float32, error) {
	prefix := make([]byte, npyPrefixLen)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}
	if string(prefix[:len(npyMagic)]) != npyMagic || prefix[6] != 1 {
		return nil, fmt.Errorf("%w: bad magic or version", errBadNPY)
	}
	header := make([]byte, binary.LittleEndian.Uint16(prefix[8:]))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	h := string(header)
	if !strings.Contains(h, "'descr': '<f4'") || !strings.Contains(h, "'fortran_order': False") {
		return nil, fmt.Errorf("%w: %s", errBadNPY, strings.TrimSpace(h))
	}

	var rows, cols int
	i := strings.Index(h, "'shape': (")
	if i < 0 {
		return nil, fmt.Errorf("%w: no shape", errBadNPY)
	}
	if _, err := fmt.Sscanf(h[i:], "'shape': (%d, %d)", &rows, &cols); err != nil {
		return nil, fmt.Errorf("%w: shape: %v", errBadNPY, err)
	}

	br := bufio.NewReader(r)
	out := make([][]float32, rows)
	var buf [4]byte
	for ri := range out {
		out[ri] = make([]float32, cols)
		for c := range out[ri] {
			if _, err := io.ReadFull(br, buf[:]); err != nil {
				return nil, err
			}
			out[ri][c] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
		}
	}
	return out, nil
}

// ReadNPYFile reads path with ReadNPY.
func ReadNPYFile(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadNPY(f)
}
