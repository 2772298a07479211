// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package jobs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/recserve/internal/database"
)

// RankerResult summarizes a TrainRanker run.
type RankerResult struct {
	Model         string
	Features      []string
	TrainRows     int64
	ValidRows     int64
	TrainGroups   int
	ValidGroups   int
	BestIteration int
	// NDCG is the best validation ndcg@eval_at, valid when HasNDCG.
	NDCG    float64
	HasNDCG bool
	Run     *RunRecord
	RunFile string
}

// rankerSplit is one exported LightGBM dataset.
type rankerSplit struct {
	data   string
	rows   int64
	groups []int64
}

// TrainRanker trains a LambdaRank model on the ranking splits with the
// LightGBM CLI. Rows are ordered by (user_id, ts) and grouped per user.
func (r *Runner) TrainRanker(ctx context.Context) (*RankerResult, error) {
	start := time.Now()
	p := r.paths
	if err := requireFiles(p.Train, p.Valid); err != nil {
		return nil, err
	}

	bin, err := exec.LookPath(r.cfg.Jobs.LightGBMPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLightGBMNotFound, err)
	}

	trainSrc := database.ParquetSource(p.Train)
	types, columns, err := columnTypes(ctx, r.db, trainSrc)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(types, "ranking dataset", "user_id", "ts", "label"); err != nil {
		return nil, err
	}
	features := FeatureColumns(columns)

	if err := os.MkdirAll(p.ModelDir, 0o755); err != nil {
		return nil, err
	}
	work, err := os.MkdirTemp(p.ModelDir, "lightgbm-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(work) //nolint:errcheck // scratch datasets

	var train, valid rankerSplit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		train, err = r.exportSplit(gctx, trainSrc, features, types, filepath.Join(work, "train.tsv"))
		return err
	})
	g.Go(func() (err error) {
		valid, err = r.exportSplit(gctx, database.ParquetSource(p.Valid), features, types, filepath.Join(work, "valid.tsv"))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("export ranking datasets: %w", err)
	}

	params := r.rankerParams()
	confPath := filepath.Join(work, "train.conf")
	if err := writeLightGBMConfig(confPath, params, train.data, valid.data, p.Ranker); err != nil {
		return nil, err
	}

	rec := &RunRecord{
		RunID:      uuid.NewString(),
		RunName:    "lgbm-ranker",
		Experiment: r.cfg.Jobs.Experiment,
		ModelName:  r.cfg.Jobs.ModelName,
		StartTime:  start.UTC(),
		Params:     params,
		Metrics:    map[string]float64{},
	}

	r.logger.Info().
		Str("lightgbm", bin).
		Strs("features", features).
		Int64("train_rows", train.rows).
		Int64("valid_rows", valid.rows).
		Int("train_groups", len(train.groups)).
		Int("valid_groups", len(valid.groups)).
		Msg("Training LightGBM ranker")

	output, runErr := r.runLightGBM(ctx, bin, confPath)
	if runErr == nil {
		if err := requireFiles(p.Ranker); err != nil {
			runErr = fmt.Errorf("lightgbm produced no model: %w", err)
		}
	}

	res := &RankerResult{
		Model:       p.Ranker,
		Features:    features,
		TrainRows:   train.rows,
		ValidRows:   valid.rows,
		TrainGroups: len(train.groups),
		ValidGroups: len(valid.groups),
		Run:         rec,
	}
	evalAt := r.cfg.Jobs.Ranker.EvalAt
	if best, iter, ok := BestNDCG(output, evalAt); ok {
		res.NDCG, res.BestIteration, res.HasNDCG = best, iter, true
		rec.Metrics[fmt.Sprintf("ndcg_valid_at_%d", evalAt)] = best
	}

	rec.Status = RunStatusFinished
	if runErr != nil {
		rec.Status = RunStatusFailed
	}
	rec.EndTime = time.Now().UTC()

	root, err := TrackingDir(r.cfg.Jobs.TrackingURI)
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	if runErr == nil {
		if err := LogArtifact(root, rec, p.Ranker, "model"); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to log model artifact")
		}
	}
	if res.RunFile, err = WriteRunRecord(root, rec); err != nil {
		return nil, errors.Join(runErr, err)
	}
	if runErr != nil {
		return nil, runErr
	}

	ev := r.logger.Info().
		Str("model", p.Ranker).
		Str("run_id", rec.RunID).
		Str("run_file", res.RunFile).
		Dur("elapsed", time.Since(start))
	if res.HasNDCG {
		ev = ev.Float64("ndcg_valid", res.NDCG).Int("best_iteration", res.BestIteration)
	}
	ev.Msg("LightGBM ranker trained")
	return res, nil
}

func (r *Runner) rankerParams() map[string]string {
	rc := r.cfg.Jobs.Ranker
	return map[string]string{
		"objective":            "lambdarank",
		"metric":               "ndcg",
		"eval_at":              strconv.Itoa(rc.EvalAt),
		"learning_rate":        strconv.FormatFloat(rc.LearningRate, 'g', -1, 64),
		"num_leaves":           strconv.Itoa(rc.NumLeaves),
		"max_depth":            strconv.Itoa(rc.MaxDepth),
		"min_data_in_leaf":     strconv.Itoa(rc.MinDataInLeaf),
		"feature_fraction":     strconv.FormatFloat(rc.FeatureFraction, 'g', -1, 64),
		"num_iterations":       strconv.Itoa(rc.NumRounds),
		"early_stopping_round": strconv.Itoa(rc.EarlyStopping),
	}
}

// exportSplit writes src as a headerless TSV (label first, NULL as nan)
// ordered by (user_id, ts), plus the per-user group sizes as <path>.query.
func (r *Runner) exportSplit(ctx context.Context, src string, features []string, types map[string]string, path string) (rankerSplit, error) {
	cols := make([]string, 0, len(features)+1)
	cols = append(cols, "CAST(label AS DOUBLE)")
	for _, f := range features {
		cols = append(cols, numericExpr(f, types[f]))
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY user_id, ts", strings.Join(cols, ", "), src)
	if err := r.db.CopyTo(ctx, query, path, database.FormatTSV); err != nil {
		return rankerSplit{}, err
	}

	tbl, err := r.db.Query(ctx, "SELECT count(*) FROM "+src+" GROUP BY user_id ORDER BY user_id")
	if err != nil {
		return rankerSplit{}, fmt.Errorf("group sizes: %w", err)
	}
	split := rankerSplit{data: path, groups: make([]int64, 0, tbl.Len())}
	var b strings.Builder
	for _, row := range tbl.Rows {
		n, _ := row[0].(int64)
		split.groups = append(split.groups, n)
		split.rows += n
		b.WriteString(strconv.FormatInt(n, 10))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path+".query", []byte(b.String()), 0o644); err != nil {
		return rankerSplit{}, fmt.Errorf("write query file: %w", err)
	}
	return split, nil
}

// numericExpr renders a feature column as a DOUBLE: timestamps become epoch
// seconds and anything non-numeric becomes NULL.
func numericExpr(col, typ string) string {
	q := database.QuoteIdent(col)
	switch {
	case isTemporal(typ):
		return fmt.Sprintf("CAST(epoch(%s) AS DOUBLE)", q)
	default:
		return fmt.Sprintf("TRY_CAST(%s AS DOUBLE)", q)
	}
}

func writeLightGBMConfig(path string, params map[string]string, train, valid, model string) error {
	keys := []string{
		"objective", "metric", "eval_at", "learning_rate", "num_leaves", "max_depth",
		"min_data_in_leaf", "feature_fraction", "num_iterations", "early_stopping_round",
	}
	var b strings.Builder
	b.WriteString("task = train\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %s\n", k, params[k])
	}
	b.WriteString("header = false\nlabel_column = 0\nmetric_freq = 1\nis_provide_training_metric = false\n")
	fmt.Fprintf(&b, "data = %s\n", train)
	fmt.Fprintf(&b, "valid_data = %s\n", valid)
	fmt.Fprintf(&b, "output_model = %s\n", model)
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func (r *Runner) runLightGBM(ctx context.Context, bin, confPath string) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "config="+confPath)
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()

	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		r.logger.Debug().Str("lightgbm", sc.Text()).Send()
	}
	if err != nil {
		return output, fmt.Errorf("lightgbm: %w: %s", err, tail(output, 512))
	}
	return output, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

var ndcgLine = regexp.MustCompile(`Iteration:(\d+), valid_\d+ ndcg@(\d+) : ([-+0-9.eE]+)`)

// BestNDCG scans LightGBM CLI output for validation ndcg@evalAt and returns
// the highest value and its iteration.
func BestNDCG(output string, evalAt int) (best float64, iteration int, ok bool) {
	want := strconv.Itoa(evalAt)
	for _, m := range ndcgLine.FindAllStringSubmatch(output, -1) {
		if m[2] != want {
			continue
		}
		v, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		it, _ := strconv.Atoi(m[1])
		if !ok || v > best {
			best, iteration, ok = v, it, true
		}
	}
	return best, iteration, ok
}
