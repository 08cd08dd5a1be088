package dispatch

import "fmt"

// Kind is the resource domain a gateway instance serves.
type Kind int

const (
	KindRepo Kind = iota + 1
	KindEvidence
	KindObservability
	KindRunbooks
	KindQdrant
)

var kindNames = map[Kind]string{
	KindRepo:          "repo",
	KindEvidence:      "evidence",
	KindObservability: "observability",
	KindRunbooks:      "runbooks",
	KindQdrant:        "qdrant",
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown mcp kind %q", s)
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Actions lists the action names the kind implements.
func (k Kind) Actions() []string {
	switch k {
	case KindRepo:
		return []string{"list_files", "read_file", "git_diff", "git_log"}
	case KindEvidence:
		return []string{"list_evidence", "read_file"}
	case KindObservability:
		return []string{"query_prometheus", "query_loki"}
	case KindRunbooks:
		return []string{"list_runbooks", "read_runbook"}
	case KindQdrant:
		return []string{"search"}
	}
	return nil
}
