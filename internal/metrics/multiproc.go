// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package metrics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/proto"
)

// Multi-process export
//
// Each process periodically snapshots its registry into
// <dir>/metrics_<pid>.pb as length-delimited MetricFamily messages. A scrape
// served by any process merges every snapshot in the directory: counters,
// histograms, summaries and untyped series are summed per label set, gauges
// are kept per process under an extra "pid" label. On shutdown a process
// rewrites its snapshot without gauges so that its counters keep contributing
// while its gauges disappear.

const (
	multiprocPrefix = "metrics_"
	multiprocSuffix = ".pb"
	pidLabel        = "pid"
)

// MultiprocWriter snapshots a gatherer into the shared directory.
type MultiprocWriter struct {
	dir      string
	pid      int
	gatherer prometheus.Gatherer
	interval time.Duration
	logger   zerolog.Logger

	mu sync.Mutex // serializes snapshot writes
}

// NewMultiprocWriter creates the directory if needed.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewMultiprocWriter(dir string, g prometheus.Gatherer, interval time.Duration, logger zerolog.Logger) (*MultiprocWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create multiproc dir: %w", err)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MultiprocWriter{
		dir:      dir,
		pid:      os.Getpid(),
		gatherer: g,
		interval: interval,
		logger:   logger,
	}, nil
}

// Path returns this process's snapshot file.
func (w *MultiprocWriter) Path() string {
	return filepath.Join(w.dir, multiprocPrefix+strconv.Itoa(w.pid)+multiprocSuffix)
}

// Flush writes a full snapshot.
func (w *MultiprocWriter) Flush() error {
	return w.snapshot(false)
}

// Serve flushes on every interval until ctx is done, then writes the final
// gauge-free snapshot. It implements suture.Service.
func (w *MultiprocWriter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := w.snapshot(true); err != nil {
				w.logger.Warn().Err(err).Msg("Final metrics snapshot failed")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				w.logger.Warn().Err(err).Str("path", w.Path()).Msg("Metrics snapshot failed")
			}
		}
	}
}

func (w *MultiprocWriter) String() string { return "metrics-multiproc-writer" }

func (w *MultiprocWriter) snapshot(dropGauges bool) error {
	families, err := w.gatherer.Gather()
	if err != nil && len(families) == 0 {
		return fmt.Errorf("gather: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	tmp, err := os.CreateTemp(w.dir, ".metrics-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	bw := bufio.NewWriter(tmp)
	for _, mf := range families {
		if dropGauges && mf.GetType() == dto.MetricType_GAUGE {
			continue
		}
		if _, err := protodelim.MarshalTo(bw, mf); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), w.Path())
}

// MultiprocGatherer merges every snapshot in a directory.
type MultiprocGatherer struct {
	dir   string
	local *MultiprocWriter
}

var _ prometheus.Gatherer = (*MultiprocGatherer)(nil)

// NewMultiprocGatherer reads snapshots from dir. When local is non-nil it is
// flushed before every gather so the scraping process reports fresh values.
func NewMultiprocGatherer(dir string, local *MultiprocWriter) *MultiprocGatherer {
	return &MultiprocGatherer{dir: dir, local: local}
}

// Gather implements prometheus.Gatherer.
func (g *MultiprocGatherer) Gather() ([]*dto.MetricFamily, error) {
	var errs []error
	if g.local != nil {
		if err := g.local.Flush(); err != nil {
			errs = append(errs, err)
		}
	}

	paths, err := filepath.Glob(filepath.Join(g.dir, multiprocPrefix+"*"+multiprocSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	m := newMerger()
	for _, path := range paths {
		pid := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), multiprocPrefix), multiprocSuffix)
		families, err := readSnapshot(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
			continue
		}
		for _, mf := range families {
			m.add(mf, pid)
		}
	}

	return m.result(), errors.Join(errs...)
}

func readSnapshot(path string) ([]*dto.MetricFamily, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var out []*dto.MetricFamily
	for {
		mf := &dto.MetricFamily{}
		err := protodelim.UnmarshalFrom(br, mf)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, mf)
	}
}

type merger struct {
	families map[string]*dto.MetricFamily
	series   map[string]map[string]*dto.Metric
}

func newMerger() *merger {
	return &merger{
		families: make(map[string]*dto.MetricFamily),
		series:   make(map[string]map[string]*dto.Metric),
	}
}

func (m *merger) add(mf *dto.MetricFamily, pid string) {
	name := mf.GetName()
	fam, ok := m.families[name]
	if !ok {
		fam = &dto.MetricFamily{Name: mf.Name, Help: mf.Help, Type: mf.Type}
		m.families[name] = fam
		m.series[name] = make(map[string]*dto.Metric)
	}
	if fam.GetType() != mf.GetType() {
		return // conflicting snapshot from an older build
	}

	for _, metric := range mf.GetMetric() {
		metric = proto.Clone(metric).(*dto.Metric)
		metric.TimestampMs = nil
		if mf.GetType() == dto.MetricType_GAUGE {
			metric.Label = append(metric.Label, &dto.LabelPair{Name: proto.String(pidLabel), Value: proto.String(pid)})
			sort.Slice(metric.Label, func(i, j int) bool {
				return metric.Label[i].GetName() < metric.Label[j].GetName()
			})
		}

		key := labelKey(metric.GetLabel())
		existing, ok := m.series[name][key]
		if !ok {
			m.series[name][key] = metric
			continue
		}
		mergeMetric(existing, metric, mf.GetType())
	}
}

func (m *merger) result() []*dto.MetricFamily {
	names := make([]string, 0, len(m.families))
	for name := range m.families {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		fam := m.families[name]
		keys := make([]string, 0, len(m.series[name]))
		for k := range m.series[name] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fam.Metric = append(fam.Metric, m.series[name][k])
		}
		if len(fam.Metric) > 0 {
			out = append(out, fam)
		}
	}
	return out
}

func labelKey(labels []*dto.LabelPair) string {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString(l.GetName())
		b.WriteByte(0)
		b.WriteString(l.GetValue())
		b.WriteByte(0)
	}
	return b.String()
}

// mergeMetric adds src into dst.
func mergeMetric(dst, src *dto.Metric, typ dto.MetricType) {
	switch typ {
	case dto.MetricType_COUNTER:
		if dst.Counter == nil {
			dst.Counter = &dto.Counter{}
		}
		dst.Counter.Value = proto.Float64(dst.GetCounter().GetValue() + src.GetCounter().GetValue())
	case dto.MetricType_UNTYPED:
		if dst.Untyped == nil {
			dst.Untyped = &dto.Untyped{}
		}
		dst.Untyped.Value = proto.Float64(dst.GetUntyped().GetValue() + src.GetUntyped().GetValue())
	case dto.MetricType_GAUGE:
		// Distinct pid labels keep gauges apart; a collision means the same
		// pid was recycled, and the later snapshot wins.
		dst.Gauge = src.Gauge
	case dto.MetricType_SUMMARY:
		if dst.Summary == nil {
			dst.Summary = &dto.Summary{}
		}
		s := dst.Summary
		s.SampleCount = proto.Uint64(s.GetSampleCount() + src.GetSummary().GetSampleCount())
		s.SampleSum = proto.Float64(s.GetSampleSum() + src.GetSummary().GetSampleSum())
		s.Quantile = nil // quantiles cannot be combined
	case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
		mergeHistogram(dst.GetHistogram(), src.GetHistogram())
	}
}

func mergeHistogram(dst, src *dto.Histogram) {
	if dst == nil || src == nil {
		return
	}
	dst.SampleCount = proto.Uint64(dst.GetSampleCount() + src.GetSampleCount())
	dst.SampleSum = proto.Float64(dst.GetSampleSum() + src.GetSampleSum())

	byBound := make(map[float64]*dto.Bucket, len(dst.GetBucket()))
	for _, b := range dst.GetBucket() {
		b.Exemplar = nil
		byBound[b.GetUpperBound()] = b
	}
	for _, b := range src.GetBucket() {
		if existing, ok := byBound[b.GetUpperBound()]; ok {
			existing.CumulativeCount = proto.Uint64(existing.GetCumulativeCount() + b.GetCumulativeCount())
			continue
		}
		nb := &dto.Bucket{UpperBound: b.UpperBound, CumulativeCount: b.CumulativeCount}
		dst.Bucket = append(dst.Bucket, nb)
		byBound[nb.GetUpperBound()] = nb
	}
	sort.Slice(dst.Bucket, func(i, j int) bool {
		return dst.Bucket[i].GetUpperBound() < dst.Bucket[j].GetUpperBound()
	})
}
