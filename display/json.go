package display

import (
	"encoding/json"
	"os"
)

// CompactEnv switches JSON output to one line per document, for piping into jq -c or log shippers
const CompactEnv = "MCTL_JSON_COMPACT"

// MarshalJSON marshals JSON indented for people, or compact when CompactEnv is set
func MarshalJSON(v interface{}) ([]byte, error) {
	if os.Getenv(CompactEnv) != "" {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
