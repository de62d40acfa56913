// Package pipeline drives one TF-IDF job: it runs the three stages in order,
// persists each stage's output under <dataDir>/<jobID>/<stage>, carries the
// frozen document count from stage 1 to stage 3, and hands the final scores
// to the configured sinks.
//
// A stage whose output directory is already complete is not run again, so a
// failed job can be resumed by running it again with the same job ID.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/keys"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/source"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/stages"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/storage/segment"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/tracing"
)

// Options configures a Pipeline.
type Options struct {
	DataDir       string
	MapWorkers    int
	ReduceWorkers int
	// Splits is the number of map tasks stage 1 divides the corpus into.
	// Later stages get one map task per non-empty part file.
	Splits           int
	KeepIntermediate bool
}

func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		DataDir:          cfg.DataDir,
		MapWorkers:       cfg.MapWorkers,
		ReduceWorkers:    cfg.ReduceWorkers,
		Splits:           cfg.Partitions,
		KeepIntermediate: cfg.KeepIntermediate,
	}
}

// StageSummary reports one stage of a run.
type StageSummary struct {
	Name     string        `json:"name"`
	Records  int           `json:"records"`
	Skipped  int64         `json:"skipped"`
	Duration time.Duration `json:"duration"`
	Reused   bool          `json:"reused"`
}

// RunResult is the outcome of a successful run.
type RunResult struct {
	JobID         string         `json:"job_id"`
	DocumentCount int64          `json:"document_count"`
	OutputDir     string         `json:"output_dir"`
	Stages        []StageSummary `json:"stages"`
	Scores        []stages.Score `json:"-"`
}

type Pipeline struct {
	opts    Options
	runner  *engine.Runner
	store   store.Store
	sinks   []sink.Sink
	metrics *metrics.Metrics
}

// New creates a Pipeline. st and m may be nil.
func New(opts Options, st store.Store, m *metrics.Metrics, sinks ...sink.Sink) *Pipeline {
	if opts.Splits <= 0 {
		opts.Splits = 1
	}
	return &Pipeline{
		opts:    opts,
		runner:  engine.NewRunner(opts.MapWorkers, opts.ReduceWorkers, m),
		store:   st,
		sinks:   sinks,
		metrics: m,
	}
}

// JobDir returns the directory holding every stage of jobID.
func JobDir(dataDir, jobID string) string {
	return filepath.Join(dataDir, jobID)
}

// Run executes a job. An empty jobID starts a new job; an existing one
// resumes from its completed stages.
func (p *Pipeline) Run(ctx context.Context, src source.Source, jobID string) (result *RunResult, err error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	ctx = logger.WithJob(ctx, jobID)
	log := logger.FromContext(ctx).With("component", "pipeline")
	ctx, span := tracing.StartSpan(ctx, "pipeline", jobID)

	job := store.Job{
		ID:        jobID,
		Status:    store.StatusRunning,
		Source:    src.Describe(),
		StartedAt: time.Now().UTC(),
	}
	if p.store != nil {
		if err := p.store.SaveJob(ctx, job); err != nil {
			return nil, err
		}
	}
	log.Info("pipeline started", "source", job.Source, "data_dir", p.opts.DataDir)

	defer func() {
		span.End(err)
		span.Log(log)
		status := "success"
		if err != nil {
			status = "failed"
			p.fail(ctx, job, err)
		}
		if p.metrics != nil {
			p.metrics.PipelineRunsTotal.WithLabelValues(status).Inc()
		}
	}()

	result, err = p.run(ctx, src, jobID)
	if err != nil {
		return nil, err
	}

	job.Status = store.StatusSucceeded
	job.DocumentCount = result.DocumentCount
	job.ScoreCount = int64(len(result.Scores))
	job.FinishedAt = time.Now().UTC()
	if p.store != nil {
		if err := p.store.SaveJob(ctx, job); err != nil {
			return nil, err
		}
	}
	if !p.opts.KeepIntermediate {
		for _, name := range []string{stages.NameWordCount, stages.NameTermFrequency} {
			if err := os.RemoveAll(filepath.Join(result.OutputDir, name)); err != nil {
				log.Warn("failed to remove intermediate output", "stage", name, "error", err)
			}
		}
	}
	log.Info("pipeline complete",
		"documents", result.DocumentCount,
		"scores", len(result.Scores),
		"duration", time.Since(job.StartedAt),
	)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, src source.Source, jobID string) (*RunResult, error) {
	result := &RunResult{JobID: jobID, OutputDir: JobDir(p.opts.DataDir, jobID)}

	// Stage 1. The document count crosses the barrier either from the
	// frozen counters of this run or from the manifest of a previous one.
	// Once a stage reruns, every stage after it reruns too.
	var docs stages.DocumentCount
	wcDir := filepath.Join(result.OutputDir, stages.NameWordCount)
	summary, err := p.stage(ctx, stages.WordCountJob(), wcDir, true, func() ([][]string, error) {
		lines, err := src.Lines(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading corpus: %w", err)
		}
		return engine.Split(lines, p.opts.Splits), nil
	}, func(res *engine.Result) error {
		frozen, err := stages.FreezeDocumentCount(res)
		docs = frozen
		return err
	})
	if err != nil {
		return nil, err
	}
	result.Stages = append(result.Stages, summary)
	if summary.Reused {
		if docs, err = documentCountFromManifest(wcDir); err != nil {
			return nil, err
		}
	}
	result.DocumentCount = docs.Value()
	if p.metrics != nil {
		p.metrics.DocumentCount.Set(float64(docs.Value()))
	}

	tfDir := filepath.Join(result.OutputDir, stages.NameTermFrequency)
	summary, err = p.stage(ctx, stages.TermFrequencyJob(), tfDir, summary.Reused, readSplits(wcDir), nil)
	if err != nil {
		return nil, err
	}
	result.Stages = append(result.Stages, summary)

	scoreDir := filepath.Join(result.OutputDir, stages.NameTFIDF)
	summary, err = p.stage(ctx, stages.TFIDFJob(docs), scoreDir, summary.Reused, readSplits(tfDir), nil)
	if err != nil {
		return nil, err
	}
	result.Stages = append(result.Stages, summary)

	if result.Scores, err = ReadScores(scoreDir); err != nil {
		return nil, err
	}

	completed := sink.JobCompleted{
		JobID:         jobID,
		DocumentCount: result.DocumentCount,
		ScoreCount:    len(result.Scores),
		OutputDir:     scoreDir,
		FinishedAt:    time.Now().UTC(),
	}
	for _, s := range p.sinks {
		sctx, span := tracing.StartChildSpan(ctx, "sink."+s.Name())
		err := s.Write(sctx, completed, result.Scores)
		span.End(err)
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", s.Name(), err)
		}
	}
	return result, nil
}

// stage runs job unless reuse is set and dir already holds its completed
// output. Output left in dir is discarded when it cannot be reused. frozen,
// if set, sees the fresh result after its counters are frozen and before it
// is written.
func (p *Pipeline) stage(
	ctx context.Context,
	job engine.Job,
	dir string,
	reuse bool,
	input func() ([][]string, error),
	frozen func(*engine.Result) error,
) (StageSummary, error) {
	ctx, span := tracing.StartChildSpan(ctx, "stage."+job.Name)
	summary, err := p.runStage(ctx, job, dir, reuse, input, frozen)
	span.SetAttr("records", summary.Records)
	span.SetAttr("reused", summary.Reused)
	span.End(err)
	return summary, err
}

func (p *Pipeline) runStage(
	ctx context.Context,
	job engine.Job,
	dir string,
	reuse bool,
	input func() ([][]string, error),
	frozen func(*engine.Result) error,
) (StageSummary, error) {
	summary := StageSummary{Name: job.Name}
	log := logger.ForStage(ctx, job.Name)
	exists := segment.Exists(dir)
	if reuse && exists {
		r, err := segment.Open(dir)
		if err != nil {
			return summary, err
		}
		summary.Reused = true
		summary.Records = r.Manifest().Records()
		summary.Skipped, _ = r.Counter(engine.CounterSkipped)
		log.Info("reusing completed stage output", "dir", dir)
		return summary, nil
	}
	if exists {
		log.Info("discarding stage output made stale by an upstream rerun", "dir", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return summary, fmt.Errorf("clearing %s output: %w", job.Name, err)
	}

	splits, err := input()
	if err != nil {
		return summary, err
	}
	res, err := p.runner.Run(ctx, job, splits)
	if err != nil {
		return summary, err
	}
	if frozen != nil {
		if err := frozen(res); err != nil {
			return summary, err
		}
	}
	counters, err := res.Counters.Snapshot()
	if err != nil {
		return summary, err
	}
	m, err := segment.NewWriter(dir).Write(job.Name, res.Partitions, counters)
	if err != nil {
		return summary, fmt.Errorf("writing %s output: %w", job.Name, err)
	}
	summary.Records = m.Records()
	summary.Skipped = counters[engine.CounterSkipped]
	summary.Duration = res.Duration
	return summary, nil
}

func readSplits(dir string) func() ([][]string, error) {
	return func() ([][]string, error) {
		r, err := segment.Open(dir)
		if err != nil {
			return nil, err
		}
		return r.Splits()
	}
}

func documentCountFromManifest(dir string) (stages.DocumentCount, error) {
	r, err := segment.Open(dir)
	if err != nil {
		return stages.DocumentCount{}, err
	}
	// A corpus without valid records never registers the counter.
	n, _ := r.Counter(stages.DocumentCounter)
	return stages.NewDocumentCount(n)
}

// ReadScores loads the final output of a job from its tfidf directory,
// ordered by word then document.
func ReadScores(dir string) ([]stages.Score, error) {
	r, err := segment.Open(dir)
	if err != nil {
		return nil, err
	}
	lines, err := r.Lines()
	if err != nil {
		return nil, err
	}
	scores := make([]stages.Score, 0, len(lines))
	for _, line := range lines {
		key, value, err := keys.SplitRecord(line)
		if err != nil {
			return nil, err
		}
		sc, err := stages.DecodeScore(key, value)
		if err != nil {
			return nil, err
		}
		scores = append(scores, sc)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Word != scores[j].Word {
			return scores[i].Word < scores[j].Word
		}
		return scores[i].DocID < scores[j].DocID
	})
	return scores, nil
}

// fail records a failed job. It uses a fresh deadline because ctx may be
// the reason the run failed.
func (p *Pipeline) fail(ctx context.Context, job store.Job, runErr error) {
	log := logger.FromContext(ctx).With("component", "pipeline")
	var stageErr *apperrors.StageError
	if errors.As(runErr, &stageErr) {
		log.Error("pipeline failed",
			"stage", stageErr.Stage,
			"phase", stageErr.Phase,
			"key", stageErr.Key,
			"error", runErr,
		)
	} else {
		log.Error("pipeline failed", "error", runErr)
	}
	if p.store == nil {
		return
	}
	job.Status = store.StatusFailed
	job.Error = runErr.Error()
	job.FinishedAt = time.Now().UTC()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.SaveJob(sctx, job); err != nil {
		log.Error("failed to record job failure", "error", err)
	}
}
