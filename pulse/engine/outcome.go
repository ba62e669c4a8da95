// Package engine holds the engine runners: a subprocess engine for shell
// jobs and one LLM engine per completion provider.
package engine

import (
	"encoding/json"
	"strings"

	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/internal/util"
	"github.com/teranos/missionctl/pulse/async"
)

// MaxExcerptBytes bounds raw output quoted in a parse failure
const MaxExcerptBytes = 500

// ParseOutcome reads the structured outcome from the last non-empty line of
// raw engine output. Anything unparseable is a failed outcome quoting the
// tail of the output.
func ParseOutcome(raw string) async.Outcome {
	outcome, err := parseOutcomeLine(raw)
	if err != nil {
		return async.FailedOutcome("%s", err)
	}
	return outcome
}

// parseOutcomeLine is ParseOutcome reporting the parse failure as an error
func parseOutcomeLine(raw string) (async.Outcome, error) {
	line := util.LastNonEmptyLine(raw)
	if line == "" {
		return async.Outcome{}, errors.New("engine produced no outcome line")
	}

	var outcome async.Outcome
	if err := json.Unmarshal([]byte(line), &outcome); err != nil {
		return async.Outcome{}, errors.Newf("unparseable engine outcome (%s): %s", err, excerpt(raw))
	}

	switch outcome.Status {
	case async.OutcomeOK, async.OutcomeFailed, async.OutcomeHumanIntervention, async.OutcomeQuotaExhausted:
		return outcome, nil
	case "":
		return async.Outcome{}, errors.Newf("engine outcome has no status: %s", excerpt(raw))
	default:
		return async.Outcome{}, errors.Newf("engine outcome has unknown status %q: %s", outcome.Status, excerpt(raw))
	}
}

// excerpt keeps the tail, where the interesting output usually is
func excerpt(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= MaxExcerptBytes {
		return raw
	}
	tail := raw[len(raw)-MaxExcerptBytes:]
	for i := 0; i < len(tail) && i < 4; i++ {
		if tail[i]&0xC0 != 0x80 {
			return "…" + tail[i:]
		}
	}
	return util.Truncate(raw, MaxExcerptBytes)
}
