package audit

import (
	"fmt"
	"strings"
)

func validateIndexInput(dir string, rec Record) error {
	if dir == "" || strings.ContainsAny(dir, `/\`) {
		return fmt.Errorf("invalid audit dir name %q", dir)
	}

	if rec.Request.MCP == "" {
		return fmt.Errorf("kind cannot be empty")
	}

	if rec.Decision.Reason == "" {
		return fmt.Errorf("reason cannot be empty")
	}

	if rec.Response.Status < 100 || rec.Response.Status > 599 {
		return fmt.Errorf("invalid status: %d", rec.Response.Status)
	}

	return nil
}
