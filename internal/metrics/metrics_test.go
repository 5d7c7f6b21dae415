package metrics_test

import (
	"errors"
	"testing"

	"deftheim/internal/domain"
	"deftheim/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues("enable_mod", "dependency"))
	errBefore := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("dependency"))

	metrics.ObserveOperation("enable_mod", &domain.DependencyError{ModID: "A-A", Unmet: []string{"B-B"}})
	metrics.ObserveOperation("enable_mod", nil)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues("enable_mod", "dependency")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("dependency")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues("enable_mod", "ok")), 1.0)

	metrics.ObserveOperation("scan", errors.New("boom"))
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("internal_error")), 1.0)
}

func TestSetModCounts(t *testing.T) {
	metrics.SetModCounts([]domain.Mod{
		{ID: "a", State: domain.StateEnabled},
		{ID: "b", State: domain.StateEnabled},
		{ID: "c", State: domain.StateDisabled},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ModCount.WithLabelValues("enabled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ModCount.WithLabelValues("disabled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ModCount.WithLabelValues("not_installed")))
}
