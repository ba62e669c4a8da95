package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/missionctl/pulse/async"
)

// truncate cuts s to n runes, marking the cut with an ellipsis
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// shortID keeps the first 8 characters of a UUID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ago renders t relative to now, "-" for the zero time
func ago(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// jobTable renders jobs as pterm table rows with a header
func jobTable(jobs []*async.Job, now time.Time) pterm.TableData {
	data := pterm.TableData{{"ID", "Status", "Pri", "Engine", "Agent", "Retries", "Title", "Updated"}}
	for _, j := range jobs {
		agentID := "-"
		if j.AgentID != "" {
			agentID = shortID(j.AgentID)
		}
		data = append(data, []string{
			shortID(j.ID),
			string(j.Status),
			strconv.Itoa(j.Priority),
			string(j.Engine),
			agentID,
			strconv.Itoa(j.RetryCount),
			truncate(j.Title, 48),
			ago(j.UpdatedAt, now),
		})
	}
	return data
}

// parseStatuses splits a comma list of job statuses
func parseStatuses(list string) ([]async.JobStatus, error) {
	var out []async.JobStatus
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !async.IsValidStatus(s) {
			return nil, fmt.Errorf("unknown job status %q", s)
		}
		out = append(out, async.JobStatus(s))
	}
	return out, nil
}
