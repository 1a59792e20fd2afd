package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/treeaudit/pkg/contentstore"
)

// LeafFunc inspects a target leaf. A returned error aborts the walk.
type LeafFunc func(ctx context.Context, leaf contentstore.Entity) error

// Walker performs a depth-first, pre-order traversal of a content tree.
//
// Each child is counted in NodesVisited, then classified: containers are
// recursed into, leaves are passed to the LeafFunc, and everything else is
// ignored. The stop function is polled on entry to every recursion and
// before every child; once it reports true, Walk returns nil without
// visiting anything further.
//
// The walker keeps no visited set and assumes the store is acyclic.
type Walker struct {
	classifier Classifier
	onLeaf     LeafFunc
	counters   *Counters
	stop       func() bool
	excludes   []string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewWalker creates a walker.
//
// Parameters:
//   - cfg: Audit configuration (classification, excludes, rate limit)
//   - counters: Counters to increment; must not be nil
//   - onLeaf: Called for every target leaf
//   - stop: Polled for cooperative cancellation; nil never stops
func NewWalker(cfg Config, counters *Counters, onLeaf LeafFunc, stop func() bool) *Walker {
	cfg = cfg.withDefaults()
	if stop == nil {
		stop = func() bool { return false }
	}
	w := &Walker{
		classifier: NewClassifier(cfg.ContainerTypes, cfg.LeafTypes),
		onLeaf:     onLeaf,
		counters:   counters,
		stop:       stop,
		excludes:   cfg.Excludes,
		logger:     zap.NewNop(),
	}
	if cfg.RateLimit > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return w
}

// WithLogger sets the logger used for per-node debug output.
func (w *Walker) WithLogger(l *zap.Logger) *Walker {
	if l != nil {
		w.logger = l
	}
	return w
}

// Walk traverses the children of node.
//
// A stop request ends the walk with a nil error. Errors from child
// enumeration or from the LeafFunc abort the walk and are returned.
func (w *Walker) Walk(ctx context.Context, node contentstore.Entity) error {
	if w.stop() {
		return nil
	}

	children, err := node.Children(ctx)
	if err != nil {
		return fmt.Errorf("list children of %s: %w", node.Path(), err)
	}

	for _, child := range children {
		if w.stop() {
			return nil
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		w.counters.NodesVisited.Add(1)
		w.logger.Debug("Visiting node", zap.String("path", child.Path()))

		if w.excluded(child.Path()) {
			continue
		}

		switch w.classifier.Classify(child.TypeName()) {
		case KindContainer:
			if err := w.Walk(ctx, child); err != nil {
				return err
			}
		case KindLeaf:
			if w.onLeaf == nil {
				continue
			}
			if err := w.onLeaf(ctx, child); err != nil {
				return fmt.Errorf("inspect %s: %w", child.Path(), err)
			}
		}
	}
	return nil
}

func (w *Walker) excluded(p string) bool {
	if len(w.excludes) == 0 {
		return false
	}
	rel := strings.TrimPrefix(p, "/")
	for _, pattern := range w.excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
