package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		name string
		st   Status
		want string
	}{
		{
			name: "idle",
			st:   Status{Phase: PhaseIdle},
			want: "Idle: [ false; nodesSeen = 0; assetsSeen = 0; assetsFixed = 0 ]",
		},
		{
			name: "running",
			st:   Status{Phase: PhaseRunning, Running: true, NodesVisited: 12, LeavesSeen: 4, LeavesFixed: 3},
			want: "Running: [ true; nodesSeen = 12; assetsSeen = 4; assetsFixed = 3 ]",
		},
		{
			name: "failed",
			st:   Status{Phase: PhaseFailed, LastError: "resolve root: not found", NodesVisited: 1},
			want: "Failed : resolve root: not found: [ false; nodesSeen = 1; assetsSeen = 0; assetsFixed = 0 ]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.st.String())
		})
	}
}

func TestPhase_Terminal(t *testing.T) {
	assert.False(t, PhaseIdle.Terminal())
	assert.False(t, PhaseRunning.Terminal())
	assert.True(t, PhaseDone.Terminal())
	assert.True(t, PhaseFailed.Terminal())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero value", mutate: func(c *Config) { *c = Config{} }},
		{name: "bad fallback", mutate: func(c *Config) { c.FallbackDate = "yesterday" }, wantErr: "fallback date"},
		{name: "bad exclude", mutate: func(c *Config) { c.Excludes = []string{"[unclosed"} }, wantErr: "exclude pattern"},
		{name: "negative rate", mutate: func(c *Config) { c.RateLimit = -1 }, wantErr: "rate limit"},
		{name: "overlapping types", mutate: func(c *Config) { c.LeafTypes = []string{"nt:folder"} }, wantErr: "both a container and a leaf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{BatchSize: -5}.withDefaults()
	assert.Equal(t, int64(DefaultBatchSize), c.BatchSize)
	assert.Equal(t, time.UTC, c.Location)
	assert.Equal(t, DefaultContainerTypes, c.ContainerTypes)
	assert.True(t, c.fallbackTime().Equal(time.Date(2022, 1, 31, 20, 23, 0, 0, time.UTC)))
}
