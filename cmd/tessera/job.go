package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tessera-db/tessera/ivm"
	"github.com/tessera-db/tessera/ivm/arrange"
	"github.com/tessera-db/tessera/ivm/codec"
	"github.com/tessera-db/tessera/ivm/join"
	"github.com/tessera-db/tessera/ivm/plan"
	"github.com/tessera-db/tessera/ivm/store"
)

// feedStep is one logical instant of the update stream.
type feedStep struct {
	Time    uint64 `yaml:"time"`
	Updates []struct {
		Rel  string `yaml:"rel"`
		Diff int64  `yaml:"diff"`
		Row  []any  `yaml:"row"`
	} `yaml:"updates"`
}

func loadFeed(path string) ([]feedStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var steps []feedStep
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for i, s := range steps {
		if i > 0 && s.Time <= steps[i-1].Time {
			return nil, fmt.Errorf("%s: step times must strictly ascend (step %d)", path, i)
		}
		for _, u := range s.Updates {
			if u.Rel == "" {
				return nil, fmt.Errorf("%s: update without a relation (step %d)", path, i)
			}
			if u.Diff == 0 {
				return nil, fmt.Errorf("%s: update with zero diff (step %d)", path, i)
			}
		}
	}
	return steps, nil
}

// leftSpec configures the outer-join mode.
type leftSpec struct {
	Probe struct {
		Name  string `yaml:"name"`
		Arity int    `yaml:"arity"`
	} `yaml:"probe"`
	Dims []struct {
		Name   string `yaml:"name"`
		Arity  int    `yaml:"arity"`
		KeyCol int    `yaml:"keycol"`
	} `yaml:"dims"`
}

func loadLeftSpec(path string) (*leftSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec leftSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &spec, nil
}

// encodeRow turns the YAML form of a tuple into its ordered byte encoding.
func encodeRow(raw []any) (ivm.Row, error) {
	vals := make([]codec.Value, len(raw))
	for i, v := range raw {
		switch x := v.(type) {
		case nil:
			vals[i] = nil
		case int:
			vals[i] = int64(x)
		case int64:
			vals[i] = x
		case float64:
			vals[i] = x
		case string:
			vals[i] = x
		default:
			return nil, fmt.Errorf("unsupported value %v (%T)", v, v)
		}
	}
	return codec.Encode(vals...), nil
}

type runner struct {
	logger *zap.Logger
	store  *store.Store
	merger *arrange.Merger
	retain uint64
}

func (r *runner) traceOpts(name string) []arrange.TraceOption {
	opts := []arrange.TraceOption{arrange.WithLogger(r.logger)}
	if r.store != nil {
		opts = append(opts, arrange.WithSink(r.store.Sink(name)))
	}
	return opts
}

// restore reloads an arrangement's persisted batches, if any.
func (r *runner) restore(arr *arrange.Arrangement) error {
	if r.store == nil {
		return nil
	}
	batches, err := r.store.LoadBatches(arr.Name())
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		return nil
	}
	r.logger.Info("restored arrangement",
		zap.String("name", arr.Name()), zap.Int("batches", len(batches)))
	return arr.Trace().Restore(batches)
}

// inner drives a multiway inner delta join over the feed.
func (r *runner) inner(g *plan.Graph, feed []feedStep) error {
	required, err := g.Arrangements(plan.Greedy{})
	if err != nil {
		return err
	}

	arrs := make(map[plan.Required]*arrange.Arrangement, len(required))
	readers := make(map[plan.Required]*arrange.Reader, len(required))
	var traces []*arrange.Trace
	for _, q := range required {
		name := fmt.Sprintf("%s:by-col%d", g.Relations[q.Rel].Name, q.Col)
		arr := arrange.New(name, plan.SplitFor(g, q.Rel, q.Col), r.traceOpts(name)...)
		if err := r.restore(arr); err != nil {
			return err
		}
		r.merger.Watch(arr.Trace())
		arrs[q] = arr
		readers[q] = arr.Reader()
		traces = append(traces, arr.Trace())
	}

	delta, err := plan.Build(g, plan.Greedy{}, readers)
	if err != nil {
		return err
	}

	var headers []string
	for _, rel := range g.Relations {
		for c := 0; c < rel.Arity; c++ {
			headers = append(headers, fmt.Sprintf("%s[%d]", rel.Name, c))
		}
	}

	resumed := ivm.Time(0)
	for _, t := range traces {
		if f := t.Frontier(); f > resumed {
			resumed = f
		}
	}

	for _, step := range feed {
		instant := ivm.Time(step.Time)
		if instant < resumed {
			r.logger.Info("skipping already applied step", zap.Uint64("time", step.Time))
			continue
		}

		inputs, err := groupByRel(instant, step)
		if err != nil {
			return err
		}
		for q, arr := range arrs {
			ups := inputs[g.Relations[q.Rel].Name]
			if len(ups) == 0 {
				continue
			}
			if _, err := arr.Insert(instant+1, ups); err != nil {
				return fmt.Errorf("ingesting %s at %d: %w", arr.Name(), instant, err)
			}
		}

		out, err := delta.Step(instant, inputs)
		if err != nil {
			return err
		}
		printStep(instant, headers, out)
		r.compact(instant, traces)
	}
	return nil
}

// left drives an outer join over the feed.
func (r *runner) left(spec *leftSpec, feed []feedStep) error {
	dims := make([]join.LeftDim, len(spec.Dims))
	for i, d := range spec.Dims {
		dims[i] = join.LeftDim{Name: d.Name, Arity: d.Arity, KeyCol: d.KeyCol}
	}
	lj, err := join.NewLeftJoin(spec.Probe.Name, spec.Probe.Arity, dims, r.traceOpts)
	if err != nil {
		return err
	}
	for _, arr := range lj.Arrangements() {
		if err := r.restore(arr); err != nil {
			return err
		}
	}
	for _, t := range lj.Traces() {
		r.merger.Watch(t)
	}

	var headers []string
	for c := 0; c < spec.Probe.Arity; c++ {
		headers = append(headers, fmt.Sprintf("%s[%d]", spec.Probe.Name, c))
	}
	for _, d := range spec.Dims {
		for c := 1; c < d.Arity; c++ {
			headers = append(headers, fmt.Sprintf("%s[%d]", d.Name, c))
		}
	}

	resumed := lj.Frontier()
	for _, step := range feed {
		instant := ivm.Time(step.Time)
		if instant < resumed {
			r.logger.Info("skipping already applied step", zap.Uint64("time", step.Time))
			continue
		}

		inputs, err := groupByRel(instant, step)
		if err != nil {
			return err
		}
		probeUps := inputs[spec.Probe.Name]
		delete(inputs, spec.Probe.Name)

		out, err := lj.Step(instant, probeUps, inputs)
		if err != nil {
			return err
		}
		printStep(instant, headers, out)
		r.compact(instant, lj.Traces())
	}
	return nil
}

func groupByRel(instant ivm.Time, step feedStep) (map[string][]ivm.Update, error) {
	inputs := make(map[string][]ivm.Update)
	for _, u := range step.Updates {
		row, err := encodeRow(u.Row)
		if err != nil {
			return nil, fmt.Errorf("step %d, relation %s: %w", instant, u.Rel, err)
		}
		inputs[u.Rel] = append(inputs[u.Rel], ivm.Update{Data: row, Time: instant, Diff: u.Diff})
	}
	return inputs, nil
}

// compact raises every trace's compaction floor so that background merges
// can fold up history older than the retention window.
func (r *runner) compact(instant ivm.Time, traces []*arrange.Trace) {
	if r.retain == 0 || uint64(instant)+1 <= r.retain {
		return
	}
	since := instant + 1 - ivm.Time(r.retain)
	for _, t := range traces {
		if err := t.AdvanceSince(since); err != nil {
			r.logger.Warn("advancing compaction floor", zap.Error(err))
		}
	}
	r.merger.Kick()
}

func printStep(instant ivm.Time, headers []string, out []ivm.Update) {
	fmt.Printf("t=%d: %d change(s)\n", instant, len(out))
	if len(out) == 0 {
		return
	}

	alignment := make([]tw.Align, len(headers)+1)
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(append([]string{"diff"}, headers...))

	for _, u := range out {
		cells := []string{formatDiff(u.Diff)}
		vals, err := codec.Decode(u.Data)
		if err != nil {
			cells = append(cells, fmt.Sprintf("<%x>", []byte(u.Data)))
		} else {
			for _, v := range vals {
				cells = append(cells, formatValue(v))
			}
		}
		table.Append(cells)
	}
	table.Render()
}

func formatDiff(d int64) string {
	if d > 0 {
		return color.GreenString("+%d", d)
	}
	return color.RedString("%d", d)
}

func formatValue(v codec.Value) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}
