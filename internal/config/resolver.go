package config

import (
	"slices"
	"strings"
)

// Load order: providers before consumers. Modules resolve each other
// through the service registry at Start, so a module must start after
// everything it depends on. Ties within a rank break alphabetically for
// determinism.
var loadRank = []string{
	"store.",     // backends register waitroom/session/lock/collab services
	"engine.",    // conversational engine
	"notify",     // publisher and /ws handler
	"room",       // controller, consumed by matchmaker jobs and gateway
	"matchmaker", // drains the waitroom
	"cron",       // housekeeping jobs over stores and sessions
	"gateway.",   // HTTP surface starts serving last
}

func rankOf(id string) int {
	for i, prefix := range loadRank {
		if strings.HasPrefix(id, prefix) {
			return i
		}
	}
	return len(loadRank)
}

// Resolve returns the configured module IDs in load order.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if ra, rb := rankOf(a), rankOf(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a, b)
	})
	return ids
}
