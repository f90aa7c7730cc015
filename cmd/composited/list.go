package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jihwankim/compositeworker/pkg/composite"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Args:  cobra.NoArgs,
	Short: "List composite ids and their registered RPC method names",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	doc, err := composite.Load(cfg.Framework.CompositesPath)
	if err != nil {
		return fmt.Errorf("failed to load composite definitions: %w", err)
	}

	fmt.Println("ping")
	for _, c := range doc.Composites {
		desc := c.Description
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Printf("%s\t%s\n", c.ID, desc)
	}
	return nil
}
