package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jihwankim/compositeworker/pkg/composite"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Args:  cobra.NoArgs,
	Short: "Parse and validate a composite-definitions file without starting a server",
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	doc, err := composite.Load(cfg.Framework.CompositesPath)
	if err != nil {
		return fmt.Errorf("composite definitions are invalid: %w", err)
	}

	warnings := composite.Lint(doc)
	if len(warnings) == 0 {
		fmt.Printf("%s is valid: %d composite(s)\n", cfg.Framework.CompositesPath, len(doc.Composites))
		return nil
	}

	fmt.Printf("%s parsed with %d warning(s):\n", cfg.Framework.CompositesPath, len(warnings))
	for _, w := range warnings {
		fmt.Printf("  - %s\n", w)
	}
	return nil
}
