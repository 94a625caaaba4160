package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRun(t *testing.T) {
	splitBefore := testutil.ToFloat64(RunsTotal.WithLabelValues(OutcomeSplit))
	failedBefore := testutil.ToFloat64(RunsTotal.WithLabelValues(OutcomeFailed))
	rowsBefore := testutil.ToFloat64(RowsProcessed)
	partsBefore := testutil.ToFloat64(PartsWritten)

	ObserveRun(OutcomeSplit, 250_000, 3, 2*time.Second)
	ObserveRun(OutcomeFailed, 10, 0, time.Second)

	assert.Equal(t, splitBefore+1, testutil.ToFloat64(RunsTotal.WithLabelValues(OutcomeSplit)))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(RunsTotal.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, rowsBefore+250_000, testutil.ToFloat64(RowsProcessed))
	assert.Equal(t, partsBefore+3, testutil.ToFloat64(PartsWritten))
}
