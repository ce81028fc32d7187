package join

import (
	"fmt"
	"sort"

	"github.com/tessera-db/tessera/ivm"
	"github.com/tessera-db/tessera/ivm/arrange"
	"github.com/tessera-db/tessera/ivm/codec"
)

// Absent incrementally maintains absent(R): one synthesized null-payload
// row per join-key value that the probing base relation demands but R does
// not supply. It is an anti-join: the first R row for a key retracts the
// synthesized row, deleting the last one reinstates it, in both cases
// conditioned on the probing side still demanding the key.
type Absent struct {
	probe   *arrange.Reader // probing base relation, arranged by the join key
	base    *arrange.Reader // R, arranged by the same key
	nullVal ivm.Row         // payload every synthesized row carries
}

// NewAbsent builds the operator over the two shared arrangements.
func NewAbsent(probe, base *arrange.Reader, nullVal ivm.Row) *Absent {
	return &Absent{probe: probe, base: base, nullVal: nullVal}
}

// Step returns the updates to absent(R) at one instant, given the keys
// touched by either side's batch for it. Both arrangements must already
// have ingested the instant. Null keys are skipped: a null join key never
// demands an absent row, it is matched by the functional nulls component
// instead.
func (a *Absent) Step(instant ivm.Time, touched []ivm.Row) []ivm.KeyedUpdate {
	keys := dedupeRows(touched)

	var out []ivm.KeyedUpdate
	for _, key := range keys {
		if codec.IsNull(key) {
			continue
		}
		var beforeProbe, beforeBase int64
		if instant > 0 {
			beforeProbe = a.probe.CountAt(key, instant-1)
			beforeBase = a.base.CountAt(key, instant-1)
		}
		afterProbe := a.probe.CountAt(key, instant)
		afterBase := a.base.CountAt(key, instant)

		was := beforeProbe > 0 && beforeBase == 0
		now := afterProbe > 0 && afterBase == 0
		if was == now {
			continue
		}
		diff := int64(1)
		if was {
			diff = -1
		}
		out = append(out, ivm.KeyedUpdate{Key: key, Val: a.nullVal, Time: instant, Diff: diff})
	}
	return out
}

func dedupeRows(rows []ivm.Row) []ivm.Row {
	if len(rows) < 2 {
		return rows
	}
	sorted := append([]ivm.Row(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Compare(sorted[j]) < 0 })
	out := sorted[:1]
	for _, r := range sorted[1:] {
		if !out[len(out)-1].Equal(r) {
			out = append(out, r)
		}
	}
	return out
}

// LeftDim describes one probed relation of a left join.
type LeftDim struct {
	// Name of the relation's update stream.
	Name string
	// Arity is its column count; column 0 is its join key, and the other
	// columns are what a match contributes to the output row.
	Arity int
	// KeyCol is the probing relation's column equated with this
	// relation's key.
	KeyCol int
}

// LeftJoin maintains
//
//	probe LEFT JOIN dim_1 LEFT JOIN ... LEFT JOIN dim_n
//
// by rewriting each probed relation R into R ∪ absent(R) ∪ nulls and
// handing the resulting multiway inner join to the delta engine
// unchanged. Each delta-rule probe of an augmented relation decomposes
// into three alternatives: the plain arrangement of R (still shared with
// any other join), the incrementally maintained absent(R), and a
// stateless functional transform for null join keys. Augmentation thus
// adds no new operator machinery, only the absent(R) maintenance.
//
// Rows are codec tuples. The output layout is the probe's columns
// followed by each dim's non-key columns in dim order; an unmatched dim
// contributes nulls.
type LeftJoin struct {
	probeName  string
	probeArity int
	dims       []*leftDim
	probeArrs  []*arrange.Arrangement
	delta      *Delta
}

type leftDim struct {
	cfg    LeftDim
	base   *arrange.Arrangement
	absent *arrange.Arrangement
	op     *Absent
}

// TraceOptions supplies per-arrangement trace options, keyed by the
// arrangement's name. Callers use it to attach persistence sinks and
// loggers to the traces a left join owns. A nil TraceOptions is fine.
type TraceOptions func(name string) []arrange.TraceOption

// NewLeftJoin validates the configuration and builds all arrangements and
// delta rules. Configuration errors surface here, before any update flows.
func NewLeftJoin(probeName string, probeArity int, dims []LeftDim, topts TraceOptions) (*LeftJoin, error) {
	if probeName == "" || probeArity <= 0 {
		return nil, fmt.Errorf("join: left join needs a named probe relation with positive arity")
	}
	seen := map[string]bool{probeName: true}
	for _, d := range dims {
		if d.Name == "" || seen[d.Name] {
			return nil, fmt.Errorf("join: duplicate or empty relation name %q", d.Name)
		}
		seen[d.Name] = true
		if d.Arity <= 0 {
			return nil, fmt.Errorf("join: relation %q needs positive arity", d.Name)
		}
		if d.KeyCol < 0 || d.KeyCol >= probeArity {
			return nil, fmt.Errorf("join: relation %q key column %d out of probe range", d.Name, d.KeyCol)
		}
	}

	mk := func(name string) []arrange.TraceOption {
		if topts == nil {
			return nil
		}
		return topts(name)
	}

	lj := &LeftJoin{probeName: probeName, probeArity: probeArity}
	for _, d := range dims {
		cfg := d
		byCol := fmt.Sprintf("%s:by-col%d", probeName, cfg.KeyCol)
		probeArr := arrange.New(byCol, splitByCol(probeArity, cfg.KeyCol), mk(byCol)...)
		base := arrange.New(cfg.Name+":by-key", splitByCol(cfg.Arity, 0), mk(cfg.Name+":by-key")...)
		absent := arrange.New(cfg.Name+":absent", nil, mk(cfg.Name+":absent")...)
		lj.probeArrs = append(lj.probeArrs, probeArr)
		lj.dims = append(lj.dims, &leftDim{
			cfg:    cfg,
			base:   base,
			absent: absent,
			op:     NewAbsent(probeArr.Reader(), base.Reader(), codec.Nulls(cfg.Arity-1)),
		})
	}

	rules, err := lj.buildRules()
	if err != nil {
		return nil, err
	}
	lj.delta, err = NewDelta(rules)
	if err != nil {
		return nil, err
	}
	return lj, nil
}

// Traces returns every trace the join owns, for registration with a
// background Merger.
func (lj *LeftJoin) Traces() []*arrange.Trace {
	var out []*arrange.Trace
	for _, a := range lj.probeArrs {
		out = append(out, a.Trace())
	}
	for _, d := range lj.dims {
		out = append(out, d.base.Trace(), d.absent.Trace())
	}
	return out
}

// Arrangements returns every arrangement the join owns, by name, for
// restoring persisted state at startup.
func (lj *LeftJoin) Arrangements() []*arrange.Arrangement {
	var out []*arrange.Arrangement
	out = append(out, lj.probeArrs...)
	for _, d := range lj.dims {
		out = append(out, d.base, d.absent)
	}
	return out
}

// Frontier returns the time up to which the join's output is complete.
func (lj *LeftJoin) Frontier() ivm.Time {
	if len(lj.probeArrs) == 0 {
		return 0
	}
	return lj.probeArrs[0].Frontier()
}

// Step processes one instant: every update must carry Time == instant.
// The probing relation's updates and each dim's updates (keyed by name)
// are ingested, absent(R) maintenance runs, and the delta engine produces
// the round's consolidated output.
func (lj *LeftJoin) Step(instant ivm.Time, probeUpdates []ivm.Update, dimUpdates map[string][]ivm.Update) ([]ivm.Update, error) {
	upper := instant + 1

	if err := updatesAt(instant, probeUpdates); err != nil {
		return nil, fmt.Errorf("join: %s: %w", lj.probeName, err)
	}
	for name, ups := range dimUpdates {
		if lj.dim(name) == nil {
			return nil, fmt.Errorf("join: updates for unknown relation %q", name)
		}
		if err := updatesAt(instant, ups); err != nil {
			return nil, fmt.Errorf("join: %s: %w", name, err)
		}
	}

	inputs := map[string][]ivm.Update{lj.probeName: probeUpdates}

	probeBatches := make([]*arrange.Batch, len(lj.dims))
	for k, arr := range lj.probeArrs {
		b, err := arr.Insert(upper, probeUpdates)
		if err != nil {
			return nil, err
		}
		probeBatches[k] = b
	}

	for k, d := range lj.dims {
		ups := dimUpdates[d.cfg.Name]
		baseBatch, err := d.base.Insert(upper, ups)
		if err != nil {
			return nil, err
		}
		inputs[d.cfg.Name] = ups

		touched := append(probeBatches[k].KeyRows(), baseBatch.KeyRows()...)
		absentUps := d.op.Step(instant, touched)
		if _, err := d.absent.InsertKeyed(upper, absentUps); err != nil {
			return nil, err
		}

		rows := make([]ivm.Update, 0, len(absentUps))
		for _, u := range absentUps {
			rows = append(rows, ivm.Update{
				Data: concatRows(u.Key, u.Val),
				Time: u.Time,
				Diff: u.Diff,
			})
		}
		inputs[d.cfg.Name+"!absent"] = rows
	}

	return lj.delta.Step(instant, inputs)
}

func (lj *LeftJoin) dim(name string) *leftDim {
	for _, d := range lj.dims {
		if d.cfg.Name == name {
			return d
		}
	}
	return nil
}

// buildRules derives the delta rules over the augmented relations. The
// probe holds slot 0 of the global order; dim k (and its absent
// companion, which is just another component of the same augmented
// relation) holds slot k+1.
func (lj *LeftJoin) buildRules() ([]Rule, error) {
	var rules []Rule

	// d(probe): chain through every augmented dim in dim order. The
	// accumulated layout is already canonical, so no projection.
	probeRule := Rule{Input: lj.probeName, Slot: 0}
	for k, d := range lj.dims {
		probeRule.Steps = append(probeRule.Steps, lj.augStep(k, d, d.cfg.KeyCol))
	}
	rules = append(rules, probeRule)

	// d(dim_k) and d(absent_k): probe the probing relation first (its
	// state strictly before the instant, slot 0), then the other
	// augmented dims. Layout: dim_k row, probe row, then other tails,
	// projected back to canonical order at the end.
	for k, d := range lj.dims {
		steps := []Step{{Probes: []Probe{{
			Slot:    0,
			Reader:  lj.probeArrs[k].Reader(),
			Key:     colKey(0),
			Combine: concatRows,
		}}}}
		for j, other := range lj.dims {
			if j == k {
				continue
			}
			steps = append(steps, lj.augStep(j, other, d.cfg.Arity+other.cfg.KeyCol))
		}
		project := lj.projectFor(k)
		rules = append(rules,
			Rule{Input: d.cfg.Name, Slot: k + 1, Steps: steps, Project: project},
			Rule{Input: d.cfg.Name + "!absent", Slot: k + 1, Steps: steps, Project: project},
		)
	}
	return rules, nil
}

// augStep is one probe of the augmented relation dim ∪ absent(dim) ∪
// nulls, keyed by column keyPos of the in-flight row.
func (lj *LeftJoin) augStep(k int, d *leftDim, keyPos int) Step {
	arity := d.cfg.Arity
	return Step{Probes: []Probe{
		{
			Slot:    k + 1,
			Reader:  d.base.Reader(),
			Key:     colKey(keyPos),
			Combine: appendTail(arity),
		},
		{
			Slot:    k + 1,
			Reader:  d.absent.Reader(),
			Key:     colKey(keyPos),
			Combine: concatRows,
		},
		{
			// null join keys match nothing real; synthesize the null
			// padding directly, statelessly.
			Fn: nullFill(keyPos, arity-1),
		},
	}}
}

// projectFor returns the projection taking rule k's accumulated layout
// (dim_k, probe, other tails in dim order) to the canonical layout
// (probe, then every dim's tail in dim order).
func (lj *LeftJoin) projectFor(k int) func(ivm.Row) (ivm.Row, error) {
	dimArity := lj.dims[k].cfg.Arity
	probeArity := lj.probeArity

	expected := dimArity + probeArity
	for j, d := range lj.dims {
		if j != k {
			expected += d.cfg.Arity - 1
		}
	}

	return func(row ivm.Row) (ivm.Row, error) {
		vals, err := codec.Decode(row)
		if err != nil {
			return nil, err
		}
		if len(vals) != expected {
			return nil, fmt.Errorf("join: projected row has %d columns, want %d", len(vals), expected)
		}
		out := make([]codec.Value, 0, expected-1)
		out = append(out, vals[dimArity:dimArity+probeArity]...)
		pos := dimArity + probeArity
		for j, d := range lj.dims {
			if j == k {
				out = append(out, vals[1:dimArity]...)
				continue
			}
			out = append(out, vals[pos:pos+d.cfg.Arity-1]...)
			pos += d.cfg.Arity - 1
		}
		return codec.Encode(out...), nil
	}
}

// splitByCol arranges codec-tuple rows of the given arity by one column.
func splitByCol(arity, col int) ivm.SplitFunc {
	return func(data ivm.Row) (ivm.Row, ivm.Row, error) {
		vals, err := codec.Decode(data)
		if err != nil {
			return nil, nil, err
		}
		if len(vals) != arity {
			return nil, nil, fmt.Errorf("row has %d columns, want %d", len(vals), arity)
		}
		return codec.Encode(vals[col]), data, nil
	}
}

// colKey extracts column pos of the in-flight row as a probe key. A null
// column yields a nil key, which the probe machinery treats as
// unmatchable.
func colKey(pos int) func(ivm.Row) (ivm.Row, error) {
	return func(row ivm.Row) (ivm.Row, error) {
		vals, err := codec.Decode(row)
		if err != nil {
			return nil, err
		}
		if pos >= len(vals) {
			return nil, fmt.Errorf("join: key column %d out of range (%d columns)", pos, len(vals))
		}
		if vals[pos] == nil {
			return nil, nil
		}
		return codec.Encode(vals[pos]), nil
	}
}

// appendTail combines a matched dim row into the in-flight row, dropping
// the dim's key column, which duplicates a probe column the output already
// carries.
func appendTail(arity int) func(cur, matched ivm.Row) ivm.Row {
	return func(cur, matched ivm.Row) ivm.Row {
		vals, err := codec.Decode(matched)
		if err != nil || len(vals) != arity {
			// matched rows come out of our own arrangements; a decode
			// failure here means the value was corrupted upstream
			panic(fmt.Sprintf("join: undecodable arranged row: %v", err))
		}
		return concatRows(cur, codec.Encode(vals[1:]...))
	}
}

// nullFill synthesizes the null-padded continuation for rows whose join
// key at keyPos is itself null.
func nullFill(keyPos, width int) func(ivm.Row) RowIter {
	return func(row ivm.Row) RowIter {
		vals, err := codec.Decode(row)
		if err != nil || keyPos >= len(vals) || vals[keyPos] != nil {
			return NoRows()
		}
		return Rows(concatRows(row, codec.Nulls(width)))
	}
}

func concatRows(a, b ivm.Row) ivm.Row {
	out := make(ivm.Row, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func updatesAt(instant ivm.Time, updates []ivm.Update) error {
	for _, u := range updates {
		if u.Time != instant {
			return fmt.Errorf("update at time %d in a step for instant %d", u.Time, instant)
		}
	}
	return nil
}
