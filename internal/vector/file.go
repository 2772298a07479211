// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// File layout, little endian:
//
//	magic        [4]byte "RSVI"
//	version      uint32  (2)
//	dim          uint32
//	count        uint32
//	fingerprint  [32]byte
//	provider     uint16 length + bytes
//	model        uint16 length + bytes
//	rows         count*dim float32
var indexMagic = [4]byte{'R', 'S', 'V', 'I'}

const indexVersion uint32 = 2

// ErrInvalidIndexFile is returned for files that are not recserve indexes.
var ErrInvalidIndexFile = errors.New("vector: invalid index file")

type fileHeader struct {
	Magic       [4]byte
	Version     uint32
	Dim         uint32
	Count       uint32
	Fingerprint [32]byte
}

// WriteTo writes the index in the binary file format.
func (ix *Index) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	hdr := fileHeader{
		Magic:       indexMagic,
		Version:     indexVersion,
		Dim:         uint32(ix.dim),
		Count:       uint32(len(ix.rows)),
		Fingerprint: ix.meta.Fingerprint,
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return 0, err
	}
	written := int64(binary.Size(hdr))

	for _, s := range []string{ix.meta.Provider, ix.meta.Model} {
		n, err := writeString(bw, s)
		written += n
		if err != nil {
			return written, err
		}
	}

	var buf [4]byte
	for _, row := range ix.rows {
		for _, x := range row {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(x)))
			if _, err := bw.Write(buf[:]); err != nil {
				return written, err
			}
			written += 4
		}
	}
	return written, bw.Flush()
}

func writeString(w io.Writer, s string) (int64, error) {
	if len(s) > math.MaxUint16 {
		return 0, fmt.Errorf("vector: metadata string too long (%d bytes)", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return 0, err
	}
	n, err := io.WriteString(w, s)
	return int64(2 + n), err
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadIndex reads an index written by WriteTo. Rows are re-normalized on
// load, which also restores the centroid.
func ReadIndex(r io.Reader) (*Index, error) {
	return readIndex(r, -1)
}

// readIndex reads an index. When size is known (>= 0) the header must
// account for exactly size bytes before any row is allocated.
func readIndex(r io.Reader, size int64) (*Index, error) {
	br := bufio.NewReader(r)

	var hdr fileHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidIndexFile, err)
	}
	if hdr.Magic != indexMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidIndexFile, hdr.Magic[:])
	}
	if hdr.Version != indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidIndexFile, hdr.Version)
	}
	if hdr.Dim == 0 || hdr.Count == 0 {
		return nil, fmt.Errorf("%w: empty index (dim=%d count=%d)", ErrInvalidIndexFile, hdr.Dim, hdr.Count)
	}

	meta := Meta{Fingerprint: hdr.Fingerprint}
	var err error
	if meta.Provider, err = readString(br); err != nil {
		return nil, fmt.Errorf("%w: provider: %v", ErrInvalidIndexFile, err)
	}
	if meta.Model, err = readString(br); err != nil {
		return nil, fmt.Errorf("%w: model: %v", ErrInvalidIndexFile, err)
	}

	rowBytes := 4 * int64(hdr.Dim)
	capacity := min(int(hdr.Count), 1024)
	if size >= 0 {
		body := size - int64(binary.Size(hdr)) - int64(4+len(meta.Provider)+len(meta.Model))
		if body < 0 || body%rowBytes != 0 || body/rowBytes != int64(hdr.Count) {
			return nil, fmt.Errorf("%w: %d bytes do not hold %d rows of dim %d", ErrInvalidIndexFile, size, hdr.Count, hdr.Dim)
		}
		capacity = int(hdr.Count)
	}

	vectors := make([][]float64, 0, capacity)
	raw := make([]byte, rowBytes)
	for i := 0; i < int(hdr.Count); i++ {
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidIndexFile, i, err)
		}
		row := make([]float64, hdr.Dim)
		for j := range row {
			row[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*j:])))
		}
		vectors = append(vectors, row)
	}

	ix, err := Build(vectors)
	if err != nil {
		return nil, err
	}
	return ix.WithMeta(meta), nil
}

// WriteFile atomically writes the index to path, creating parent directories.
func (ix *Index) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if _, err := ix.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile loads an index from path.
func ReadFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return readIndex(f, info.Size())
}
