// Package sym defines the glyphs used to tag log lines and CLI output.
// They are stable across the CLI, the HTTP API and log queries.
package sym

const (
	AM         = "≡" // configuration
	Pulse      = "꩜" // job execution (claims, runners, worker pool)
	PulseOpen  = "✿" // worker pool startup
	PulseClose = "❀" // worker pool shutdown
	Dispatch   = "⟲" // auto-dispatch sweep
	Agent      = "⌬" // agent roster, routing and review
	DB         = "⊔" // database and migrations
	Notify     = "✉" // operator notifications
)

// All returns every symbol keyed by name
func All() map[string]string {
	return map[string]string{
		"am":          AM,
		"pulse":       Pulse,
		"pulse_open":  PulseOpen,
		"pulse_close": PulseClose,
		"dispatch":    Dispatch,
		"agent":       Agent,
		"db":          DB,
		"notify":      Notify,
	}
}
