package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObservePrediction(t *testing.T) {
	before := testutil.ToFloat64(PredictionsTotal.WithLabelValues("error"))

	ObservePrediction(false, 20*time.Millisecond)
	ObservePrediction(true, 10*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(PredictionsTotal.WithLabelValues("error")))
}

func TestObserveAdvisory(t *testing.T) {
	before := testutil.ToFloat64(AdvisoryRequestsTotal.WithLabelValues("answer", "success"))

	ObserveAdvisory("answer", true, time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(AdvisoryRequestsTotal.WithLabelValues("answer", "success")))
}

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register(func() float64 { return 3 })
		Register(nil)
	})
}
