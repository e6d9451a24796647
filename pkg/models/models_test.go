package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobPending, JobProcessing, true},
		{JobPending, JobCompleted, true},
		{JobPending, JobFailed, true},
		{JobProcessing, JobProcessing, true},
		{JobProcessing, JobCompleted, true},
		{JobProcessing, JobPending, false},
		{JobCompleted, JobProcessing, false},
		{JobCompleted, JobFailed, false},
		{JobCompleted, JobCompleted, true},
		{JobFailed, JobPending, false},
		{JobPending, JobStatus("queued"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvanceTo(tt.to))
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, JobStatus("unknown").Valid())
}

func TestAlertLevelRank(t *testing.T) {
	levels := []AlertLevel{AlertNone, AlertWarning, AlertCritical, AlertEmergency}
	for i, l := range levels {
		assert.Equal(t, i, l.Rank())
	}
	assert.Equal(t, -1, AlertLevel("severe").Rank())
}

func TestParseService(t *testing.T) {
	svc, err := ParseService("video-provider")
	require.NoError(t, err)
	assert.Equal(t, ServiceVideoProvider, svc)

	_, err = ParseService("gpu")
	assert.Error(t, err)
}

func TestValidAmount(t *testing.T) {
	assert.True(t, ValidAmount(0))
	assert.True(t, ValidAmount(6.5))
	assert.True(t, ValidAmount(MaxAmount))
	assert.False(t, ValidAmount(-0.01))
	assert.False(t, ValidAmount(MaxAmount*10))
	assert.False(t, ValidAmount(math.Inf(1)))
	assert.False(t, ValidAmount(math.NaN()))
}
