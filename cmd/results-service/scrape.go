package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/scheduler"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/store"
)

func newScrapeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Run one scrape cycle into an in-memory store and print its summary",
		Example: `  results-service scrape
  results-service scrape --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sched := scheduler.New(a.newSource(), store.NewMemoryStore(), a.schedulerConfig(),
				scheduler.WithLogger(a.logger),
			)

			stats, err := sched.RunOnce(cmd.Context())
			if stats != nil {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(stats); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
}
