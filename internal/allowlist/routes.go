package allowlist

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
)

// ActionSet is the set of action names a gateway instance accepts.
type ActionSet map[string]struct{}

func (s ActionSet) Allows(action string) bool {
	_, ok := s[action]
	return ok
}

func (s ActionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type routes struct {
	Actions []string `json:"actions"`
}

// ParseRoutes reads a routes document of the form {"actions": [...]}.
// Comments and trailing commas are accepted. An empty document allows
// nothing.
func ParseRoutes(doc string) (ActionSet, error) {
	set := ActionSet{}
	if strings.TrimSpace(doc) == "" {
		return set, nil
	}

	var r routes
	if err := json.Unmarshal(jsonc.ToJSON([]byte(doc)), &r); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	for _, action := range r.Actions {
		if action == "" {
			continue
		}
		set[action] = struct{}{}
	}
	return set, nil
}
