package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/pscheid92/unranked/internal/domain"
)

// Migration upgrades stored data by exactly one schema version.
type Migration func(json.RawMessage) (json.RawMessage, error)

// Migrations lists, per key, the chain of upgrades. The function at index i
// takes version i to version i+1, so the current version is the chain length.
type Migrations map[string][]Migration

func DefaultMigrations() Migrations {
	return Migrations{
		domain.KeyIdeas:  {ideasAddDiscardThreshold},
		domain.KeyScores: {scoresNormalize},
	}
}

func (m Migrations) Version(key string) int {
	return len(m[key])
}

// Apply runs every migration from version up to the current one.
func (m Migrations) Apply(key string, version int, data json.RawMessage) (json.RawMessage, error) {
	chain := m[key]
	if version < 0 || version > len(chain) {
		return nil, fmt.Errorf("%s: stored version %d unsupported (current %d)", key, version, len(chain))
	}
	for v := version; v < len(chain); v++ {
		next, err := chain[v](data)
		if err != nil {
			return nil, fmt.Errorf("%s: migrate v%d to v%d: %w", key, v, v+1, err)
		}
		data = next
	}
	return data, nil
}

const legacyDiscardThreshold = 2

// ideasAddDiscardThreshold fills in the threshold for ideas saved before it existed.
func ideasAddDiscardThreshold(data json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields["discard_threshold"]; !ok {
		fields["discard_threshold"] = json.RawMessage(fmt.Sprint(legacyDiscardThreshold))
	}
	if v, ok := fields["data"]; !ok || string(v) == "null" {
		fields["data"] = json.RawMessage("[]")
	}
	return json.Marshal(fields)
}

func scoresNormalize(data json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields["message"]; !ok {
		fields["message"] = json.RawMessage(`""`)
	}
	if v, ok := fields["records"]; !ok || string(v) == "null" {
		fields["records"] = json.RawMessage("[]")
	}
	return json.Marshal(fields)
}
