package main

import (
	"fmt"
	"os"

	"github.com/hazyhaar/docforge/draft"
)

// renderFile runs a markup file through the orchestrator without a model.
func renderFile(in, out string) error {
	if out == "" {
		return fmt.Errorf("-render requires -out")
	}
	raw, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	res := draft.NewOrchestrator(nil).Render(string(raw), nil)
	if err := os.WriteFile(out, res.Package, 0o644); err != nil {
		return err
	}
	return printJSON(map[string]any{"out": out, "bytes": len(res.Package), "degraded": res.Degraded, "reason": res.Reason})
}
