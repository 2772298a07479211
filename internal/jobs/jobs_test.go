// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package jobs

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/recserve/internal/config"
	"github.com/tomtom215/recserve/internal/database"
	"github.com/tomtom215/recserve/internal/embedding"
	"github.com/tomtom215/recserve/internal/events"
	"github.com/tomtom215/recserve/internal/vector"
)

const testItemsCSV = `item_id,title,genres,overview
10,Red Car,Action,a fast red car
11,Blue Car,Drama,a slow blue car
12,Space Ship,Sci-Fi,a ship in space
`

const testInteractionsCSV = `user_id,item_id,ts,dwell_s,like
1,10,100,10.0,1
1,11,200,20.0,0
1,12,300,30.0,1
2,10,150,5.0,1
`

type testEnv struct {
	dir string
	cfg *config.Config
	db  *database.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.Jobs.TrackingURI = "file:" + filepath.Join(dir, "mlruns")
	cfg.Jobs.ALS.Factors = 8
	cfg.Jobs.ALS.Iterations = 5

	db, err := database.New(&config.DatabaseConfig{Threads: 2})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return &testEnv{dir: dir, cfg: cfg, db: db}
}

func (e *testEnv) runner() *Runner {
	return NewRunner(e.db, e.cfg, zerolog.Nop())
}

func (e *testEnv) write(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) query(t *testing.T, q string) *database.Table {
	t.Helper()
	tbl, err := e.db.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("Query(%s) error = %v", q, err)
	}
	return tbl
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	default:
		return math.NaN()
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFeatures(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "items.csv", testItemsCSV)
	env.write(t, "interactions.csv", testInteractionsCSV)

	res, err := env.runner().Features(context.Background(), FeaturesOptions{})
	if err != nil {
		t.Fatalf("Features() error = %v", err)
	}
	if res.Items != 3 || res.Interactions != 4 || res.Users != 2 || res.ItemsWithAgg != 3 {
		t.Errorf("result = %+v", res)
	}

	p := env.runner().Paths()
	users := env.query(t, "SELECT user_id, u_cnt, u_avg_dwell, u_p90_dwell, u_last_ts FROM "+
		database.ParquetSource(p.UserAgg)+" ORDER BY user_id")
	want := [][]float64{
		{1, 3, 20, 28, 300},
		{2, 1, 5, 5, 150},
	}
	if users.Len() != len(want) {
		t.Fatalf("user_agg rows = %d, want %d", users.Len(), len(want))
	}
	for i, row := range users.Rows {
		for j, v := range row {
			if !approx(toFloat(v), want[i][j]) {
				t.Errorf("user_agg[%d].%s = %v, want %v", i, users.Columns[j], v, want[i][j])
			}
		}
	}

	items := env.query(t, "SELECT item_id, i_pop, i_avg_dwell, i_p90_dwell FROM "+
		database.ParquetSource(p.ItemAgg)+" WHERE item_id = 10")
	if items.Len() != 1 {
		t.Fatalf("item_agg rows for item 10 = %d", items.Len())
	}
	for j, w := range []float64{10, 2, 7.5, 9.5} {
		if got := toFloat(items.Rows[0][j]); !approx(got, w) {
			t.Errorf("item_agg.%s = %v, want %v", items.Columns[j], got, w)
		}
	}

	if n, err := env.db.Count(context.Background(), database.ParquetSource(p.ItemsParquet)); err != nil || n != 3 {
		t.Errorf("items.parquet rows = %d, %v", n, err)
	}
}

func TestFeaturesItemsOnly(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "items.csv", testItemsCSV)

	res, err := env.runner().Features(context.Background(), FeaturesOptions{IncludeEvents: true})
	if err != nil {
		t.Fatalf("Features() error = %v", err)
	}
	if res.Items != 3 || res.Interactions != 0 {
		t.Errorf("result = %+v", res)
	}
	if fileExists(env.runner().Paths().UserAgg) {
		t.Error("user_agg.parquet written without interactions")
	}
}

func TestFeaturesIncludeEvents(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "items.csv", testItemsCSV)
	env.write(t, "interactions.csv", testInteractionsCSV)

	user, item, dwell := "1", int64(11), 7.0
	clicked := events.NewFeedbackEvent(true, "v1", "us")
	clicked.UserID, clicked.ItemID, clicked.DwellSeconds = &user, &item, &dwell
	anonymous := events.NewFeedbackEvent(false, "v1", "us")

	sink := events.NewParquetSink(env.db, env.cfg.EventsDir())
	if _, err := sink.WriteEvents(context.Background(), []events.FeedbackEvent{clicked, anonymous}); err != nil {
		t.Fatalf("WriteEvents() error = %v", err)
	}

	res, err := env.runner().Features(context.Background(), FeaturesOptions{IncludeEvents: true})
	if err != nil {
		t.Fatalf("Features() error = %v", err)
	}
	if res.EventFiles != 1 {
		t.Errorf("EventFiles = %d, want 1", res.EventFiles)
	}
	if res.Interactions != 5 {
		t.Errorf("Interactions = %d, want 5 (anonymous event skipped)", res.Interactions)
	}

	p := env.runner().Paths()
	tbl := env.query(t, `SELECT u_cnt, u_last_ts FROM `+database.ParquetSource(p.UserAgg)+` WHERE user_id = 1`)
	if tbl.Len() != 1 || toFloat(tbl.Rows[0][0]) != 4 {
		t.Fatalf("user 1 aggregate = %v", tbl.Rows)
	}
	if last := toFloat(tbl.Rows[0][1]); last < float64(time.Now().Add(-time.Hour).Unix()) {
		t.Errorf("u_last_ts = %v, want the event time in epoch seconds", last)
	}
}

func TestMissingInputs(t *testing.T) {
	env := newTestEnv(t)
	r := env.runner()
	ctx := context.Background()

	if _, err := r.Features(ctx, FeaturesOptions{}); !errors.Is(err, ErrMissingInput) {
		t.Errorf("Features() error = %v, want ErrMissingInput", err)
	}
	if _, err := r.LTRDataset(ctx); !errors.Is(err, ErrMissingInput) {
		t.Errorf("LTRDataset() error = %v, want ErrMissingInput", err)
	}
	if _, err := r.TrainRanker(ctx); !errors.Is(err, ErrMissingInput) {
		t.Errorf("TrainRanker() error = %v, want ErrMissingInput", err)
	}
	if _, err := r.TrainALS(ctx); !errors.Is(err, ErrMissingInput) {
		t.Errorf("TrainALS() error = %v, want ErrMissingInput", err)
	}
	if _, err := r.BuildIndex(ctx, nil); !errors.Is(err, ErrMissingInput) {
		t.Errorf("BuildIndex() error = %v, want ErrMissingInput", err)
	}
}

func TestFeaturesMissingColumn(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "items.csv", testItemsCSV)
	env.write(t, "interactions.csv", "user_id,item_id,ts\n1,10,100\n")

	_, err := env.runner().Features(context.Background(), FeaturesOptions{})
	if !errors.Is(err, ErrMissingInput) {
		t.Errorf("Features() error = %v, want ErrMissingInput for dwell_s", err)
	}
}

func runFeatures(t *testing.T, env *testEnv) {
	t.Helper()
	if _, err := env.runner().Features(context.Background(), FeaturesOptions{}); err != nil {
		t.Fatalf("Features() error = %v", err)
	}
}

func TestLTRDataset(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "items.csv", testItemsCSV)
	env.write(t, "interactions.csv", testInteractionsCSV)
	runFeatures(t, env)

	res, err := env.runner().LTRDataset(context.Background())
	if err != nil {
		t.Fatalf("LTRDataset() error = %v", err)
	}
	if res.TrainRows != 3 || res.ValidRows != 1 {
		t.Errorf("rows = %d/%d, want 3/1", res.TrainRows, res.ValidRows)
	}
	if res.TrainPositives != 2 || res.ValidPositives != 1 {
		t.Errorf("positives = %d/%d, want 2/1", res.TrainPositives, res.ValidPositives)
	}
	for _, want := range []string{"dwell_s", "like", "u_cnt", "u_p90_dwell", "i_pop", "i_avg_dwell"} {
		if !slices.Contains(res.Features, want) {
			t.Errorf("features %v missing %q", res.Features, want)
		}
	}
	for _, excluded := range []string{"user_id", "item_id", "label", "ts"} {
		if slices.Contains(res.Features, excluded) {
			t.Errorf("features %v contain %q", res.Features, excluded)
		}
	}

	p := env.runner().Paths()
	train := env.query(t, "SELECT ts, label, u_cnt FROM "+database.ParquetSource(p.Train))
	var ts []float64
	for _, row := range train.Rows {
		ts = append(ts, toFloat(row[0]))
	}
	if !slices.Equal(ts, []float64{100, 150, 200}) {
		t.Errorf("train ts = %v, want [100 150 200]", ts)
	}
	valid := env.query(t, "SELECT ts, label FROM "+database.ParquetSource(p.Valid))
	if valid.Len() != 1 || toFloat(valid.Rows[0][0]) != 300 || toFloat(valid.Rows[0][1]) != 1 {
		t.Errorf("valid rows = %v", valid.Rows)
	}
}

func TestLTRDatasetDefaultsLabel(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "items.csv", testItemsCSV)
	env.write(t, "interactions.csv", "user_id,item_id,ts,dwell_s\n1,10,100,1.0\n1,11,200,2.0\n")
	runFeatures(t, env)

	res, err := env.runner().LTRDataset(context.Background())
	if err != nil {
		t.Fatalf("LTRDataset() error = %v", err)
	}
	if res.TrainRows != 1 || res.ValidRows != 1 {
		t.Errorf("rows = %d/%d, want 1/1", res.TrainRows, res.ValidRows)
	}
	if res.TrainPositives != 1 || res.ValidPositives != 1 {
		t.Errorf("positives = %d/%d, want every row labelled 1", res.TrainPositives, res.ValidPositives)
	}
}

func TestBuildIndex(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "items.csv", testItemsCSV)

	provider, err := embedding.NewProvider(context.Background(), embedding.NewHashEmbedder(64),
		embedding.Meta{Provider: "hash", Model: "test", Dim: 64}, embedding.Options{BatchSize: 2, Concurrency: 1})
	if err != nil {
		t.Fatal(err)
	}

	res, err := env.runner().BuildIndex(context.Background(), provider)
	if err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}
	if res.Items != 3 || res.Dim != 64 {
		t.Errorf("result = %+v", res)
	}

	ix, err := vector.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if ix.Len() != 3 || ix.Dim() != 64 {
		t.Errorf("index = %d x %d, want 3 x 64", ix.Len(), ix.Dim())
	}
	if m := ix.Meta(); m.Provider != "hash" || m.Model != "test" || m.Fingerprint == ([32]byte{}) {
		t.Errorf("index meta = %+v, want hash/test with a text fingerprint", m)
	}

	q, _ := provider.EmbedOne(context.Background(), "a fast red car")
	matches, err := ix.Search(q, 1)
	if err != nil || len(matches) != 1 || matches[0].Row != 0 {
		t.Errorf("Search() = %v, %v, want row 0 first", matches, err)
	}
}

func TestTrainALSJob(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "items.csv", testItemsCSV)
	env.write(t, "interactions.csv", testInteractionsCSV)
	runFeatures(t, env)

	res, err := env.runner().TrainALS(context.Background())
	if err != nil {
		t.Fatalf("TrainALS() error = %v", err)
	}
	if res.Users != 2 || res.Items != 3 || res.Factors != 8 {
		t.Errorf("result = %+v", res)
	}

	uf, err := ReadNPYFile(res.UserFactors)
	if err != nil {
		t.Fatalf("read user factors: %v", err)
	}
	itf, err := ReadNPYFile(res.ItemFactors)
	if err != nil {
		t.Fatalf("read item factors: %v", err)
	}
	if len(uf) != 2 || len(uf[0]) != 8 || len(itf) != 3 || len(itf[0]) != 8 {
		t.Errorf("shapes = %dx%d, %dx%d", len(uf), len(uf[0]), len(itf), len(itf[0]))
	}
}
