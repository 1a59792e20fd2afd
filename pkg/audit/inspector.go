package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/treeaudit/pkg/contentstore"
	"github.com/3leaps/treeaudit/pkg/output"
)

// ParseLegacyDate parses a legacy string value with layout in loc.
// When the value does not parse, fallback is returned and usedFallback is true.
func ParseLegacyDate(raw, layout string, loc *time.Location, fallback time.Time) (t time.Time, usedFallback bool) {
	if loc == nil {
		loc = time.UTC
	}
	parsed, err := time.ParseInLocation(layout, raw, loc)
	if err != nil {
		return fallback, true
	}
	return parsed, false
}

// Inspector examines target leaves for a string-typed date attribute and
// optionally rewrites it as a native date.
//
// Inspector is bound to one session and one set of counters; create one per
// run.
type Inspector struct {
	cfg      Config
	fallback time.Time
	session  contentstore.Session
	counters *Counters
	report   output.Writer
	logger   *zap.Logger
}

// NewInspector creates an inspector for a run.
func NewInspector(cfg Config, session contentstore.Session, counters *Counters) (*Inspector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Inspector{
		cfg:      cfg,
		fallback: cfg.fallbackTime(),
		session:  session,
		counters: counters,
		report:   output.Discard,
		logger:   zap.NewNop(),
	}, nil
}

// WithReport sets the writer findings and commits are reported to.
func (in *Inspector) WithReport(w output.Writer) *Inspector {
	if w != nil {
		in.report = w
	}
	return in
}

// WithLogger sets the inspector logger.
func (in *Inspector) WithLogger(l *zap.Logger) *Inspector {
	if l != nil {
		in.logger = l
	}
	return in
}

// Inspect examines leaf and, when repair is set, stages a fix and commits
// every BatchSize fixes.
//
// A leaf without a metadata sub-entity, or whose attribute is missing or
// not a string, is left alone and not counted.
func (in *Inspector) Inspect(ctx context.Context, leaf contentstore.Entity, repair bool) error {
	in.logger.Debug("Inspecting leaf", zap.String("path", leaf.Path()))

	meta, err := leaf.Child(ctx, in.cfg.MetadataPath)
	switch {
	case err == nil:
		if err := in.inspectMetadata(ctx, leaf, meta, repair); err != nil {
			return err
		}
	case contentstore.IsNotFound(err):
	default:
		return fmt.Errorf("resolve %s: %w", in.cfg.MetadataPath, err)
	}

	fixed := in.counters.LeavesFixed.Load()
	if repair && in.session.HasPendingChanges() && fixed%in.cfg.BatchSize == 0 {
		in.logger.Info("Saving batch of fixed leaves", zap.Int64("leaves_fixed", fixed))
		if err := in.session.Commit(ctx); err != nil {
			return fmt.Errorf("batch commit: %w", err)
		}
		_ = in.report.WriteCommit(ctx, &output.CommitRecord{LeavesFixed: fixed})
	}
	return nil
}

// Func adapts the inspector to a walker LeafFunc.
func (in *Inspector) Func(repair bool) LeafFunc {
	return func(ctx context.Context, leaf contentstore.Entity) error {
		return in.Inspect(ctx, leaf, repair)
	}
}

func (in *Inspector) inspectMetadata(ctx context.Context, leaf, meta contentstore.Entity, repair bool) error {
	v, ok := meta.Property(in.cfg.Property)
	if !ok || v.Type != contentstore.TypeString {
		return nil
	}
	in.counters.LeavesSeen.Add(1)

	parsed, usedFallback := ParseLegacyDate(v.Raw, in.cfg.DateLayout, in.cfg.Location, in.fallback)
	if usedFallback {
		in.logger.Debug("Unparseable legacy date; using fallback",
			zap.String("path", leaf.Path()),
			zap.String("raw", v.Raw))
	}

	finding := &output.FindingRecord{
		Path:     leaf.Path(),
		Property: in.cfg.Property,
		Raw:      v.Raw,
		Parsed:   parsed,
		Fallback: usedFallback,
	}

	if repair {
		if err := meta.SetProperty(ctx, in.cfg.Property, contentstore.DateValue(parsed)); err != nil {
			return fmt.Errorf("set %s: %w", in.cfg.Property, err)
		}
		in.counters.LeavesFixed.Add(1)
		finding.Fixed = true
	}

	_ = in.report.WriteFinding(ctx, finding)
	return nil
}
