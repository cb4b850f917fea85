// Package planner answers path filters over records, folding them through
// indexes when the schema allows and evaluating them record by record when it
// does not.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/orneryd/pathfold/pkg/expr"
	"github.com/orneryd/pathfold/pkg/fold"
	"github.com/orneryd/pathfold/pkg/index"
	"github.com/orneryd/pathfold/pkg/schema"
	"github.com/orneryd/pathfold/pkg/storage"
)

// DefaultCacheSize is the number of resolved paths kept per planner.
const DefaultCacheSize = 256

// ErrInvalidQuery is returned for queries missing a class or path.
var ErrInvalidQuery = errors.New("invalid query")

// Strategy is how a query was answered.
type Strategy int

const (
	// StrategyFold answered the query through index lookups.
	StrategyFold Strategy = iota + 1
	// StrategyScan evaluated the path against every record of the class.
	StrategyScan
)

// String returns "fold", "scan" or "unknown".
func (s Strategy) String() string {
	switch s {
	case StrategyFold:
		return "fold"
	case StrategyScan:
		return "scan"
	}
	return "unknown"
}

// RecordSource provides the records a planner filters.
type RecordSource interface {
	expr.RecordLoader
	RecordsByClass(class string) ([]*storage.Record, error)
	IDsByClass(class string) ([]storage.RecordID, error)
}

// Query selects the records of Class whose Path evaluates to one of Values,
// or to none of them when Negate is set. A list-valued path matches when any
// element matches.
type Query struct {
	Class string
	Path  string
	// Expr overrides Path when set.
	Expr   expr.Expression
	Values []any
	Negate bool
	// Vars binds the variables a scan may reference.
	Vars map[string]any
}

// Result is the answer to a Query.
type Result struct {
	IDs      []storage.RecordID
	Strategy Strategy
	// Plan is set when Strategy is StrategyFold.
	Plan fold.Plan
	// Rejection explains why a foldable-looking path was scanned.
	Rejection *fold.Rejection
}

type cachedPlan struct {
	version   uint64
	plan      fold.Plan
	rejection *fold.Rejection
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCacheSize sets how many resolved paths are cached. Zero or less keeps
// the default.
func WithCacheSize(size int) Option {
	return func(p *Planner) {
		if size > 0 {
			p.cacheSize = size
		}
	}
}

// WithFolding enables or disables index folding. Disabled planners always
// scan.
func WithFolding(enabled bool) Option {
	return func(p *Planner) { p.folding = enabled }
}

// WithRegistry sets the registry receiving the planner timers.
func WithRegistry(registry metrics.Registry) Option {
	return func(p *Planner) {
		if registry != nil {
			p.registry = registry
		}
	}
}

// Planner answers queries against one schema and record source. It is safe for
// concurrent use.
type Planner struct {
	schema    *schema.Schema
	source    RecordSource
	logger    *slog.Logger
	registry  metrics.Registry
	folding   bool
	cacheSize int

	cache     *lru.Cache[string, cachedPlan]
	foldTimer metrics.Timer
	scanTimer metrics.Timer
}

// New creates a planner.
func New(s *schema.Schema, source RecordSource, opts ...Option) (*Planner, error) {
	p := &Planner{
		schema:    s,
		source:    source,
		logger:    slog.New(slog.DiscardHandler),
		registry:  metrics.NewRegistry(),
		folding:   true,
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(p)
	}

	cache, err := lru.New[string, cachedPlan](p.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache: %w", err)
	}
	p.cache = cache
	p.foldTimer = metrics.GetOrRegisterTimer("planner.fold", p.registry)
	p.scanTimer = metrics.GetOrRegisterTimer("planner.scan", p.registry)
	return p, nil
}

// Filter answers q.
func (p *Planner) Filter(ctx context.Context, q Query) (*Result, error) {
	class, e, err := p.prepare(q)
	if err != nil {
		return nil, err
	}

	names, ok := expr.Names(expr.Unfold(e))
	if ok {
		names, e = canonical(class, names, e)
	}
	if !ok || !p.folding {
		return p.scan(ctx, class, e, q, nil)
	}

	plan, rej := p.resolve(class, names)
	if rej != nil {
		p.logger.Debug("path not foldable",
			"class", class.Name(),
			"path", expr.JoinNames(names),
			"position", rej.Position,
			"segment", rej.Segment,
			"reason", rej.Reason.String())
		return p.scan(ctx, class, e, q, rej)
	}
	return p.fold(ctx, class, names, plan, q)
}

func (p *Planner) prepare(q Query) (*schema.Class, expr.Expression, error) {
	if q.Class == "" {
		return nil, nil, fmt.Errorf("%w: no class", ErrInvalidQuery)
	}
	class, ok := p.schema.Class(q.Class)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", schema.ErrClassNotFound, q.Class)
	}

	e := q.Expr
	if e == nil {
		if q.Path == "" {
			return nil, nil, fmt.Errorf("%w: no path", ErrInvalidQuery)
		}
		parsed, err := expr.ParsePath(q.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		e = parsed
	}
	return class, e, nil
}

// canonical replaces every segment of names that resolves on the schema with
// the declared property name, and rebuilds e when one changed. Records store
// fields under their declared names, so both strategies must read those.
func canonical(class *schema.Class, names []string, e expr.Expression) ([]string, expr.Expression) {
	out := make([]string, len(names))
	copy(out, names)
	changed := false

	current := class
	for i, name := range names {
		prop, ok := current.Property(name)
		if !ok {
			break
		}
		if prop.Name() != name {
			out[i] = prop.Name()
			changed = true
		}
		if i == len(names)-1 {
			break
		}
		next, ok := prop.LinkedClass()
		if !ok {
			break
		}
		current = next
	}
	if !changed {
		return names, e
	}

	rest := make([]expr.Expression, 0, len(out)-1)
	for _, name := range out[1:] {
		rest = append(rest, expr.NewName(name))
	}
	return out, expr.Chain(expr.NewName(out[0]), rest...)
}

// resolve returns the cached resolution of names on class, recomputing it
// when the schema changed since it was cached.
func (p *Planner) resolve(class *schema.Class, names []string) (fold.Plan, *fold.Rejection) {
	key := strings.ToLower(class.Name() + ":" + expr.JoinNames(names))
	version := p.schema.Version()

	if cached, ok := p.cache.Get(key); ok && cached.version == version {
		return cached.plan, cached.rejection
	}

	plan, rej := fold.Analyze(names, class)
	p.cache.Add(key, cachedPlan{version: version, plan: plan, rejection: rej})
	return plan, rej
}

func (p *Planner) fold(ctx context.Context, class *schema.Class, names []string, plan fold.Plan, q Query) (*Result, error) {
	start := time.Now()
	defer p.foldTimer.UpdateSince(start)

	seed, err := p.seed(ctx, plan.Final, names[len(names)-1], q.Values)
	if err != nil {
		return nil, err
	}

	var result *fold.SearchResult
	if q.Negate {
		result = fold.NewExcluded(seed...)
	} else {
		result = fold.NewIncluded(seed...)
	}
	if err := fold.Fold(ctx, perHop(plan.Segments), result); err != nil {
		return nil, err
	}

	ids, err := p.materialise(class, result)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("path folded",
		"class", class.Name(),
		"path", expr.JoinNames(names),
		"segments", len(plan.Segments),
		"matches", len(ids),
		"elapsed", time.Since(start))
	return &Result{IDs: ids, Strategy: StrategyFold, Plan: plan}, nil
}

// seed finds the records of final whose terminal field holds one of values,
// through an index leading with the field when there is one.
func (p *Planner) seed(ctx context.Context, final *schema.Class, terminal string, values []any) ([]any, error) {
	if idx := leadingIndex(final, terminal); idx != nil {
		keys := values
		if idx.Definition().IsComposite() {
			keys = make([]any, len(values))
			for i, v := range values {
				keys[i] = index.NewCompositeKey(v)
			}
		}
		ids, err := idx.Values(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("seed %s.%s: %w", final.Name(), terminal, err)
		}
		idx.RecordUsage()
		return toValues(ids), nil
	}

	records, err := p.source.RecordsByClass(final.Name())
	if err != nil {
		return nil, err
	}
	var out []any
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, _ := rec.Field(terminal)
		if matches(v, values) {
			out = append(out, rec.ID)
		}
	}
	return out, nil
}

// leadingIndex picks the index of class leading with field, preferring
// single-field indexes.
func leadingIndex(class *schema.Class, field string) index.Index {
	var composite index.Index
	for _, idx := range class.InvolvedIndexes(field) {
		def := idx.Definition()
		if !strings.EqualFold(def.Leading(), field) {
			continue
		}
		if !def.IsComposite() {
			return idx
		}
		if composite == nil {
			composite = idx
		}
	}
	return composite
}

// perHop keeps one segment per hop, preferring a single-field index. Folding
// two indexes of the same hop in sequence would feed the record IDs returned
// by the first to the second as keys.
func perHop(segments []fold.Segment) []fold.Segment {
	out := make([]fold.Segment, 0, len(segments))
	for _, seg := range segments {
		last := len(out) - 1
		if last < 0 || out[last].Position() != seg.Position() {
			out = append(out, seg)
			continue
		}
		if out[last].Index().Definition().IsComposite() && !seg.Index().Definition().IsComposite() {
			out[last] = seg
		}
	}
	return out
}

// materialise turns a folded result into record IDs of class.
func (p *Planner) materialise(class *schema.Class, result *fold.SearchResult) ([]storage.RecordID, error) {
	all, err := p.source.IDsByClass(class.Name())
	if err != nil {
		return nil, err
	}

	listed := make(map[storage.RecordID]struct{})
	values := result.Included()
	if result.IsExcluded() {
		values = result.Excluded()
	}
	for _, v := range values {
		if id, ok := v.(storage.RecordID); ok {
			listed[id] = struct{}{}
		}
	}

	out := []storage.RecordID{}
	for _, id := range all {
		_, in := listed[id]
		if in != result.IsExcluded() {
			out = append(out, id)
		}
	}
	return out, nil
}

func (p *Planner) scan(ctx context.Context, class *schema.Class, e expr.Expression, q Query, rej *fold.Rejection) (*Result, error) {
	start := time.Now()
	defer p.scanTimer.UpdateSince(start)

	records, err := p.source.RecordsByClass(class.Name())
	if err != nil {
		return nil, err
	}

	ectx := expr.NewContext(ctx, p.source)
	for name, v := range q.Vars {
		ectx.Set(name, v)
	}

	ids := []storage.RecordID{}
	for _, rec := range records {
		v, err := expr.Evaluate(ectx, e, rec)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s on %s: %w", e, rec.ID, err)
		}
		if matches(v, q.Values) != q.Negate {
			ids = append(ids, rec.ID)
		}
	}

	p.logger.Debug("path scanned",
		"class", class.Name(),
		"path", e.String(),
		"records", len(records),
		"matches", len(ids),
		"elapsed", time.Since(start))
	return &Result{IDs: ids, Strategy: StrategyScan, Rejection: rej}, nil
}

// matches reports whether v, or any element of a list v, equals one of values.
func matches(v any, values []any) bool {
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if matches(item, values) {
				return true
			}
		}
		return false
	case []storage.RecordID:
		for _, item := range list {
			if matches(item, values) {
				return true
			}
		}
		return false
	}
	if v == nil {
		return false
	}
	for _, want := range values {
		if index.KeyEqual(v, want) {
			return true
		}
	}
	return false
}

func toValues(ids []storage.RecordID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
