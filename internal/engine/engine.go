// Package engine is an in-process map/shuffle/reduce runner. It executes one
// stage at a time: map tasks run in parallel over input splits, an optional
// combiner pre-aggregates each split locally, a barrier waits for every map
// task, the output is grouped by key, and reduce tasks run in parallel over
// hash partitions of the key space. Counters are frozen when the stage ends.
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/metrics"
)

// Counter names maintained by the engine itself.
const (
	CounterMapInput     = "engine.map.input"
	CounterMapOutput    = "engine.map.output"
	CounterReduceGroups = "engine.reduce.groups"
	CounterReduceOutput = "engine.reduce.output"
	CounterSkipped      = "engine.skipped"
)

// Record is one key/value pair produced by a task.
type Record struct {
	Key   string
	Value string
}

// Emitter receives the output of a map or reduce call.
type Emitter func(key, value string)

// Mapper turns one input line into zero or more records.
type Mapper interface {
	Map(tc *TaskContext, line string, emit Emitter) error
}

// Reducer folds every value of one key into zero or more records. Values
// arrive complete but in no particular order.
type Reducer interface {
	Reduce(tc *TaskContext, key string, values []string, emit Emitter) error
}

// Setupper is implemented by stages that read job configuration once before
// any of their tasks run.
type Setupper interface {
	Setup(conf Conf) error
}

// Conf is stage-wide, read-only configuration.
type Conf map[string]string

// Int64 returns the named integer parameter.
func (c Conf) Int64(name string) (int64, error) {
	raw, ok := c[name]
	if !ok {
		return 0, apperrors.Errorf(apperrors.ErrMissingConfig, "%q not set", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Errorf(apperrors.ErrInvalidNumber, "config %q=%q: %v", name, raw, err)
	}
	return v, nil
}

// Job describes one stage.
type Job struct {
	Name     string
	Mapper   Mapper
	Reducer  Reducer
	Combiner Reducer
	Conf     Conf
}

// Result is the materialised output of a finished stage.
type Result struct {
	// Partitions holds one key-sorted record slice per reduce partition.
	Partitions [][]Record
	Counters   *Counters
	Duration   time.Duration
}

// Records returns every output record sorted by key.
func (r *Result) Records() []Record {
	var out []Record
	for _, p := range r.Partitions {
		out = append(out, p...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// TaskContext is handed to every map and reduce call.
type TaskContext struct {
	ctx      context.Context
	stage    string
	counters *Counters
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewTaskContext builds a TaskContext for driving stage functions outside a
// Runner.
func NewTaskContext(ctx context.Context, stage string, counters *Counters) *TaskContext {
	return &TaskContext{
		ctx:      ctx,
		stage:    stage,
		counters: counters,
		logger:   logger.ForStage(ctx, stage),
	}
}

func (tc *TaskContext) Context() context.Context { return tc.ctx }

func (tc *TaskContext) Logger() *slog.Logger { return tc.logger }

// Counter increments a stage counter.
func (tc *TaskContext) Counter(name string, delta int64) {
	tc.counters.Add(name, delta)
}

// Skip records a recoverable bad record or value. It is logged and counted
// but never fails the stage.
func (tc *TaskContext) Skip(reason string, record string, err error) {
	tc.counters.Add(CounterSkipped, 1)
	tc.counters.Add(CounterSkipped+"."+reason, 1)
	if tc.metrics != nil {
		tc.metrics.StageSkippedTotal.WithLabelValues(tc.stage, reason).Inc()
	}
	tc.logger.Debug("skipping record",
		"reason", reason,
		"record", record,
		"error", err,
	)
}

// Runner executes jobs with a bounded number of concurrent tasks.
type Runner struct {
	mapWorkers    int
	reduceWorkers int
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewRunner creates a Runner. reduceWorkers is also the number of reduce
// partitions, and therefore of output part files per stage. m may be nil.
func NewRunner(mapWorkers, reduceWorkers int, m *metrics.Metrics) *Runner {
	if mapWorkers <= 0 {
		mapWorkers = 1
	}
	if reduceWorkers <= 0 {
		reduceWorkers = 1
	}
	return &Runner{
		mapWorkers:    mapWorkers,
		reduceWorkers: reduceWorkers,
		metrics:       m,
		logger:        logger.WithComponent("engine"),
	}
}

// Run executes job over the given input splits and returns once every reduce
// task has finished. Any task error fails the whole stage.
func (r *Runner) Run(ctx context.Context, job Job, splits [][]string) (*Result, error) {
	start := time.Now()
	counters := NewCounters()
	log := logger.ForStage(ctx, job.Name)

	// Setup must be idempotent: one value often implements both roles.
	for _, task := range []any{job.Mapper, job.Reducer, job.Combiner} {
		s, ok := task.(Setupper)
		if !ok {
			continue
		}
		if err := s.Setup(job.Conf); err != nil {
			return nil, r.fail(job.Name, &apperrors.StageError{Stage: job.Name, Phase: "setup", Err: err})
		}
	}

	tc := &TaskContext{
		ctx:      ctx,
		stage:    job.Name,
		counters: counters,
		metrics:  r.metrics,
		logger:   log,
	}

	mapped, err := r.mapPhase(tc, job, splits)
	if err != nil {
		return nil, r.fail(job.Name, err)
	}

	groups := shuffle(mapped, r.reduceWorkers)
	if r.metrics != nil {
		var n int
		for _, split := range mapped {
			n += len(split)
		}
		r.metrics.StageRecordsTotal.WithLabelValues(job.Name, "shuffled").Add(float64(n))
	}

	partitions, err := r.reducePhase(tc, job, groups)
	if err != nil {
		return nil, r.fail(job.Name, err)
	}

	counters.Freeze()
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.StageDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
		r.metrics.StageRunsTotal.WithLabelValues(job.Name, "success").Inc()
	}
	out, _ := counters.Value(CounterReduceOutput)
	skipped, _ := counters.Value(CounterSkipped)
	log.Info("stage complete",
		"splits", len(splits),
		"partitions", len(partitions),
		"output_records", out,
		"skipped", skipped,
		"duration", elapsed,
	)
	return &Result{Partitions: partitions, Counters: counters, Duration: elapsed}, nil
}

func (r *Runner) mapPhase(tc *TaskContext, job Job, splits [][]string) ([][]Record, error) {
	out := make([][]Record, len(splits))
	g, ctx := errgroup.WithContext(tc.ctx)
	g.SetLimit(r.mapWorkers)
	for i, split := range splits {
		g.Go(func() error {
			task := *tc
			task.ctx = ctx
			records := make([]Record, 0, len(split))
			emit := func(key, value string) {
				records = append(records, Record{Key: key, Value: value})
			}
			for _, line := range split {
				if err := ctx.Err(); err != nil {
					return err
				}
				task.Counter(CounterMapInput, 1)
				if err := job.Mapper.Map(&task, line, emit); err != nil {
					return &apperrors.StageError{Stage: job.Name, Phase: "map", Key: line, Err: err}
				}
			}
			task.Counter(CounterMapOutput, int64(len(records)))
			if r.metrics != nil {
				r.metrics.StageRecordsTotal.WithLabelValues(job.Name, "in").Add(float64(len(split)))
			}
			if job.Combiner != nil {
				combined, err := combine(&task, job, records)
				if err != nil {
					return err
				}
				records = combined
			}
			out[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// combine runs the combiner over one map task's output, grouped by key.
func combine(tc *TaskContext, job Job, records []Record) ([]Record, error) {
	grouped := make(map[string][]string)
	order := make([]string, 0)
	for _, rec := range records {
		if _, ok := grouped[rec.Key]; !ok {
			order = append(order, rec.Key)
		}
		grouped[rec.Key] = append(grouped[rec.Key], rec.Value)
	}
	out := make([]Record, 0, len(order))
	emit := func(key, value string) {
		out = append(out, Record{Key: key, Value: value})
	}
	for _, key := range order {
		if err := job.Combiner.Reduce(tc, key, grouped[key], emit); err != nil {
			return nil, &apperrors.StageError{Stage: job.Name, Phase: "combine", Key: key, Err: err}
		}
	}
	return out, nil
}

// group is every value of one key, assigned to a reduce partition.
type group struct {
	key    string
	values []string
}

// shuffle groups map output by key and assigns each key to a partition by
// hash. Keys within a partition are sorted.
func shuffle(mapped [][]Record, numPartitions int) [][]group {
	byKey := make(map[string][]string)
	for _, split := range mapped {
		for _, rec := range split {
			byKey[rec.Key] = append(byKey[rec.Key], rec.Value)
		}
	}
	partitions := make([][]group, numPartitions)
	for key, values := range byKey {
		p := Partition(key, numPartitions)
		partitions[p] = append(partitions[p], group{key: key, values: values})
	}
	for _, p := range partitions {
		sort.Slice(p, func(i, j int) bool { return p[i].key < p[j].key })
	}
	return partitions
}

func (r *Runner) reducePhase(tc *TaskContext, job Job, partitions [][]group) ([][]Record, error) {
	out := make([][]Record, len(partitions))
	g, ctx := errgroup.WithContext(tc.ctx)
	g.SetLimit(r.reduceWorkers)
	for i, groups := range partitions {
		g.Go(func() error {
			task := *tc
			task.ctx = ctx
			records := make([]Record, 0, len(groups))
			emit := func(key, value string) {
				records = append(records, Record{Key: key, Value: value})
			}
			for _, grp := range groups {
				if err := ctx.Err(); err != nil {
					return err
				}
				task.Counter(CounterReduceGroups, 1)
				if err := job.Reducer.Reduce(&task, grp.key, grp.values, emit); err != nil {
					return &apperrors.StageError{Stage: job.Name, Phase: "reduce", Key: grp.key, Err: err}
				}
			}
			sort.SliceStable(records, func(a, b int) bool { return records[a].Key < records[b].Key })
			task.Counter(CounterReduceOutput, int64(len(records)))
			if r.metrics != nil {
				r.metrics.StageRecordsTotal.WithLabelValues(job.Name, "out").Add(float64(len(records)))
			}
			out[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runner) fail(stage string, err error) error {
	if r.metrics != nil {
		r.metrics.StageRunsTotal.WithLabelValues(stage, "failed").Inc()
	}
	r.logger.Error("stage failed", "stage", stage, "error", err)
	return fmt.Errorf("%w: %w", apperrors.ErrStageFailed, err)
}

// Partition maps key to one of n reduce partitions.
func Partition(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()&0x7fffffff) % n
}

// Split divides lines into at most n contiguous, non-empty splits.
func Split(lines []string, n int) [][]string {
	if len(lines) == 0 {
		return nil
	}
	if n <= 0 {
		n = 1
	}
	if n > len(lines) {
		n = len(lines)
	}
	size := (len(lines) + n - 1) / n
	splits := make([][]string, 0, n)
	for start := 0; start < len(lines); start += size {
		end := min(start+size, len(lines))
		splits = append(splits, lines[start:end])
	}
	return splits
}
