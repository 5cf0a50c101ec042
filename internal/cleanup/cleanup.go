// Package cleanup empties the daemon namespace of tasks and targets.
package cleanup

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/gmp"
	"github.com/anstrom/gvmscan/internal/logging"
	"github.com/anstrom/gvmscan/internal/metrics"
)

// Repository lists and deletes daemon objects. *gmp.Client satisfies it.
type Repository interface {
	List(ctx context.Context, kind gmp.Kind) ([]gmp.Object, error)
	Delete(ctx context.Context, kind gmp.Kind, id string) error
}

// Tasks reference targets, so they go first.
var deletionOrder = []gmp.Kind{gmp.KindTask, gmp.KindTarget}

// Failure records one operation of a pass that did not succeed.
type Failure struct {
	Kind gmp.Kind
	// ID is empty when listing the kind failed.
	ID  string
	Err error
}

func (f Failure) Error() string {
	if f.ID == "" {
		return fmt.Sprintf("list %ss: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("delete %s %s: %v", f.Kind, f.ID, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Result summarizes a cleanup pass.
type Result struct {
	Deleted  []gmp.Object
	Absent   []gmp.Object
	Failures []Failure
}

// Clean reports whether every listed object was removed.
func (r *Result) Clean() bool {
	return len(r.Failures) == 0
}

// Err joins all failures, or returns nil for a clean pass.
func (r *Result) Err() error {
	if r.Clean() {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return stderrors.Join(errs...)
}

// Coordinator runs cleanup passes.
type Coordinator struct {
	repo    Repository
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics
}

// NewCoordinator creates a coordinator. m may be nil.
func NewCoordinator(repo Repository, logger *logging.Logger, m *metrics.PrometheusMetrics) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{
		repo:    repo,
		logger:  logger.WithComponent("cleanup"),
		metrics: m,
	}
}

// Cleanup deletes every task and then every target. Individual failures are
// recorded and the pass continues; objects the daemon reports as already
// gone count as removed.
func (c *Coordinator) Cleanup(ctx context.Context) *Result {
	result := &Result{}

	for _, kind := range deletionOrder {
		objects, err := c.repo.List(ctx, kind)
		if err != nil {
			c.logger.Warn("Failed to list objects", "kind", kind, "error", err)
			result.Failures = append(result.Failures, Failure{Kind: kind, Err: err})
			continue
		}

		for _, obj := range objects {
			c.delete(ctx, obj, result)
		}
	}

	if !result.Clean() {
		c.logger.Warn("Cleanup finished with failures",
			"deleted", len(result.Deleted),
			"failures", len(result.Failures),
			"error", result.Err())
	} else {
		c.logger.Info("Cleanup finished", "deleted", len(result.Deleted)+len(result.Absent))
	}
	return result
}

func (c *Coordinator) delete(ctx context.Context, obj gmp.Object, result *Result) {
	err := c.repo.Delete(ctx, obj.Kind, obj.ID)
	switch {
	case err == nil:
		c.logger.Info("Deleted existing "+string(obj.Kind), "id", obj.ID, "name", obj.Name)
		result.Deleted = append(result.Deleted, obj)
		c.metrics.RecordCleanupObject(string(obj.Kind), "deleted")
	case errors.IsNotFound(err):
		c.logger.Debug("Object already gone", "kind", obj.Kind, "id", obj.ID)
		result.Absent = append(result.Absent, obj)
		c.metrics.RecordCleanupObject(string(obj.Kind), "absent")
	default:
		c.logger.Warn("Failed to delete object", "kind", obj.Kind, "id", obj.ID, "error", err)
		result.Failures = append(result.Failures, Failure{Kind: obj.Kind, ID: obj.ID, Err: err})
		c.metrics.RecordCleanupObject(string(obj.Kind), "failed")
	}
}
