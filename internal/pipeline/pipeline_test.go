package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/stages"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/storage/segment"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/sqlite"
)

// lineSource serves fixed lines and counts reads.
type lineSource struct {
	lines []string
	reads int
	err   error
}

func (s *lineSource) Describe() string { return "test" }

func (s *lineSource) Lines(context.Context) ([]string, error) {
	s.reads++
	return s.lines, s.err
}

type captureSink struct {
	job    sink.JobCompleted
	scores []stages.Score
	err    error
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Write(_ context.Context, job sink.JobCompleted, scores []stages.Score) error {
	c.job, c.scores = job, scores
	return c.err
}

func testOptions(t *testing.T) Options {
	return Options{
		DataDir:       t.TempDir(),
		MapWorkers:    2,
		ReduceWorkers: 3,
		Splits:        2,
	}
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	client, err := sqlite.Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "jobs.db")})
	if err != nil {
		t.Fatal(err)
	}
	s, err := store.NewSQLite(context.Background(), client, 100)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var twoDocs = []string{"d1,x,the cat sat", "d2,x,the dog sat", "badrecord"}

func TestRunEndToEnd(t *testing.T) {
	opts := testOptions(t)
	st := testStore(t)
	capture := &captureSink{}
	m := metrics.New(prometheus.NewRegistry())
	p := New(opts, st, m, sink.NewStore(st, m), capture)

	res, err := p.Run(context.Background(), &lineSource{lines: twoDocs}, "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.JobID == "" {
		t.Fatal("expected generated job id")
	}
	if res.DocumentCount != 2 {
		t.Errorf("expected 2 documents, got %d", res.DocumentCount)
	}
	if len(res.Scores) != 6 {
		t.Fatalf("expected 6 scores, got %v", res.Scores)
	}
	want := (1.0 / 3.0) * math.Log(2)
	for _, sc := range res.Scores {
		switch sc.Word {
		case "cat", "dog":
			if sc.Score != want {
				t.Errorf("%s@%s: expected %v, got %v", sc.Word, sc.DocID, want, sc.Score)
			}
		default:
			if sc.Score != 0 {
				t.Errorf("%s@%s: expected 0, got %v", sc.Word, sc.DocID, sc.Score)
			}
		}
	}
	if len(res.Stages) != 3 || res.Stages[0].Skipped != 1 {
		t.Errorf("unexpected stage summaries %+v", res.Stages)
	}

	if capture.job.JobID != res.JobID || capture.job.DocumentCount != 2 || len(capture.scores) != 6 {
		t.Errorf("sink saw %+v with %d scores", capture.job, len(capture.scores))
	}

	job, err := st.LatestJob(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if job.ID != res.JobID || job.Status != store.StatusSucceeded || job.ScoreCount != 6 {
		t.Errorf("unexpected job record %+v", job)
	}
	docs, err := st.ScoresForWord(context.Background(), res.JobID, "cat", 10)
	if err != nil || len(docs) != 1 || docs[0].DocID != "d1" {
		t.Errorf("expected cat in d1, got %v (%v)", docs, err)
	}

	for _, name := range []string{stages.NameWordCount, stages.NameTermFrequency} {
		if _, err := os.Stat(filepath.Join(res.OutputDir, name)); !os.IsNotExist(err) {
			t.Errorf("intermediate %s should have been removed", name)
		}
	}
	if !segment.Exists(filepath.Join(res.OutputDir, stages.NameTFIDF)) {
		t.Error("final output missing")
	}
}

func TestRunKeepsIntermediateAndResumes(t *testing.T) {
	opts := testOptions(t)
	opts.KeepIntermediate = true
	src := &lineSource{lines: twoDocs}

	first, err := New(opts, nil, nil).Run(context.Background(), src, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(filepath.Join(first.OutputDir, stages.NameTFIDF)); err != nil {
		t.Fatal(err)
	}

	second, err := New(opts, nil, nil).Run(context.Background(), src, "job-1")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if src.reads != 1 {
		t.Errorf("corpus must not be re-read on resume, read %d times", src.reads)
	}
	if !second.Stages[0].Reused || !second.Stages[1].Reused || second.Stages[2].Reused {
		t.Errorf("unexpected reuse flags %+v", second.Stages)
	}
	if second.DocumentCount != 2 {
		t.Errorf("document count must come from the manifest, got %d", second.DocumentCount)
	}
	if len(second.Scores) != len(first.Scores) {
		t.Fatalf("resumed run produced %d scores, expected %d", len(second.Scores), len(first.Scores))
	}
	for i := range first.Scores {
		if first.Scores[i] != second.Scores[i] {
			t.Errorf("score %d differs: %+v vs %+v", i, first.Scores[i], second.Scores[i])
		}
	}
}

func TestRerunAfterCleanupRecomputesEveryStage(t *testing.T) {
	opts := testOptions(t)
	if _, err := New(opts, nil, nil).Run(context.Background(), &lineSource{lines: twoDocs}, "job-1"); err != nil {
		t.Fatal(err)
	}

	grown := append([]string{"d3,x,zebra"}, twoDocs...)
	second, err := New(opts, nil, nil).Run(context.Background(), &lineSource{lines: grown}, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range second.Stages {
		if st.Reused {
			t.Errorf("stage %s reused output of the previous corpus", st.Name)
		}
	}
	assertScoresFor(t, second, 3, map[string]float64{
		"cat@d1":   (1.0 / 3.0) * math.Log(3),
		"zebra@d3": math.Log(3),
	})
}

func TestRerunOfUpstreamStageDiscardsDownstreamOutput(t *testing.T) {
	opts := testOptions(t)
	opts.KeepIntermediate = true
	first, err := New(opts, nil, nil).Run(context.Background(), &lineSource{lines: twoDocs}, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(filepath.Join(first.OutputDir, stages.NameWordCount)); err != nil {
		t.Fatal(err)
	}

	grown := append([]string{"d3,x,zebra"}, twoDocs...)
	second, err := New(opts, nil, nil).Run(context.Background(), &lineSource{lines: grown}, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range second.Stages {
		if st.Reused {
			t.Errorf("stage %s must rerun after word count reran", st.Name)
		}
	}
	assertScoresFor(t, second, 3, map[string]float64{"zebra@d3": math.Log(3)})
}

func assertScoresFor(t *testing.T, res *RunResult, docs int64, want map[string]float64) {
	t.Helper()
	if res.DocumentCount != docs {
		t.Errorf("expected %d documents, got %d", docs, res.DocumentCount)
	}
	got := make(map[string]float64, len(res.Scores))
	for _, sc := range res.Scores {
		got[sc.Word+"@"+sc.DocID] = sc.Score
	}
	for k, v := range want {
		score, ok := got[k]
		if !ok || score != v {
			t.Errorf("%s: expected %v, got %v (present=%v)", k, v, score, ok)
		}
	}
}

func TestRunEmptyCorpus(t *testing.T) {
	res, err := New(testOptions(t), nil, nil).Run(context.Background(), &lineSource{lines: []string{"badrecord"}}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.DocumentCount != 0 || len(res.Scores) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestRunRecordsFailure(t *testing.T) {
	st := testStore(t)
	failing := &captureSink{err: errors.New("broker down")}
	_, err := New(testOptions(t), st, nil, failing).Run(context.Background(), &lineSource{lines: twoDocs}, "job-fail")
	if err == nil {
		t.Fatal("expected sink failure")
	}
	job, err := st.Job(context.Background(), "job-fail")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != store.StatusFailed || job.Error == "" {
		t.Errorf("expected failed job with error, got %+v", job)
	}
}

func TestRunSourceError(t *testing.T) {
	_, err := New(testOptions(t), nil, nil).Run(context.Background(), &lineSource{err: os.ErrNotExist}, "")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected source error, got %v", err)
	}
}

func TestRunStageFailure(t *testing.T) {
	opts := testOptions(t)
	opts.KeepIntermediate = true
	st := testStore(t)

	// A stage 1 output whose count cannot be parsed fails stage 2.
	jobDir := JobDir(opts.DataDir, "job-bad")
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		t.Fatal(err)
	}
	parts := [][]engine.Record{{{Key: "cat@d1", Value: "many"}}}
	counters := map[string]int64{stages.DocumentCounter: 1}
	if _, err := segment.NewWriter(filepath.Join(jobDir, stages.NameWordCount)).Write(stages.NameWordCount, parts, counters); err != nil {
		t.Fatal(err)
	}

	_, err := New(opts, st, nil).Run(context.Background(), &lineSource{}, "job-bad")
	if !errors.Is(err, apperrors.ErrStageFailed) {
		t.Fatalf("expected stage failure, got %v", err)
	}
	var stageErr *apperrors.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != stages.NameTermFrequency || stageErr.Phase != "map" {
		t.Errorf("unexpected stage error %+v", stageErr)
	}
	if segment.Exists(filepath.Join(jobDir, stages.NameTermFrequency)) {
		t.Error("failed stage must not leave a completed output")
	}
	job, err := st.Job(context.Background(), "job-bad")
	if err != nil || job.Status != store.StatusFailed {
		t.Errorf("expected failed job, got %+v (%v)", job, err)
	}
}
