package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/missionctl/pulse/async"
)

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		status    async.OutcomeStatus
		result    string
		errSubstr string
	}{
		{
			name:   "last line wins",
			raw:    "cloning repo\nrunning tests\n{\"status\":\"ok\",\"result\":\"12 passed\"}\n",
			status: async.OutcomeOK,
			result: "12 passed",
		},
		{
			name:   "trailing blank lines ignored",
			raw:    "{\"status\":\"quota-exhausted\",\"error\":\"credits\"}\n\n  \n",
			status: async.OutcomeQuotaExhausted,
		},
		{
			name:   "human intervention",
			raw:    `{"status":"human-intervention-requested","error":"needs login"}`,
			status: async.OutcomeHumanIntervention,
		},
		{
			name:      "no output",
			raw:       "\n\n",
			status:    async.OutcomeFailed,
			errSubstr: "no outcome line",
		},
		{
			name:      "plain text",
			raw:       "Traceback (most recent call last):\nKeyError: 'x'",
			status:    async.OutcomeFailed,
			errSubstr: "KeyError: 'x'",
		},
		{
			name:      "missing status",
			raw:       `{"result":"??"}`,
			status:    async.OutcomeFailed,
			errSubstr: "no status",
		},
		{
			name:      "unknown status never succeeds",
			raw:       `{"status":"success"}`,
			status:    async.OutcomeFailed,
			errSubstr: `unknown status "success"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseOutcome(tt.raw)
			assert.Equal(t, tt.status, got.Status)
			if tt.result != "" {
				assert.Equal(t, tt.result, got.Result)
			}
			if tt.errSubstr != "" {
				assert.Contains(t, got.Error, tt.errSubstr)
			}
		})
	}
}

func TestParseOutcomeBoundsExcerpt(t *testing.T) {
	raw := strings.Repeat("noise ", 1000) + "THE END"
	got := ParseOutcome(raw)

	assert.Equal(t, async.OutcomeFailed, got.Status)
	assert.Contains(t, got.Error, "THE END")
	assert.NotContains(t, got.Error, strings.Repeat("noise ", 100))
	assert.Less(t, len(got.Error), MaxExcerptBytes+200)
}
