/*
Copyright 2024 Weezy Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/weezyhq/recon/database"
	"github.com/weezyhq/recon/model"
)

// parseRunDate resolves the --date flag; an empty value defaults to
// yesterday, the usual value date of a morning back-office sweep.
func parseRunDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC().AddDate(0, 0, -1), nil
	}
	return time.Parse("2006-01-02", raw)
}

// runCommands executes reconciliation runs synchronously and prints each
// run's report. With no --processor flag it sweeps every configured
// processor.
func runCommands(b *reconInstance) *cobra.Command {
	var processor string
	var dateFlag string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run reconciliation for a processor and value date",
		Run: func(cmd *cobra.Command, args []string) {
			date, err := parseRunDate(dateFlag)
			if err != nil {
				log.Fatalf("invalid date %q, expected YYYY-MM-DD", dateFlag)
			}

			ctx := context.Background()
			var reports []*model.RunReport
			if processor == "" {
				reports, err = b.recon.ReconcileAll(ctx, date)
				if err != nil {
					log.Fatal(err)
				}
			} else {
				report, err := b.recon.ReconcileProcessor(ctx, processor, date)
				if err != nil {
					log.Fatal(err)
				}
				reports = []*model.RunReport{report}
			}

			for _, report := range reports {
				if report.Report != "" {
					fmt.Println(report.Report)
					continue
				}
				fmt.Printf("%s: %s", report.Processor, report.Status)
				if report.Reason != "" {
					fmt.Printf(" (%s)", report.Reason)
				}
				fmt.Println()
			}
		},
	}

	cmd.Flags().StringVar(&processor, "processor", "", "Processor to reconcile; empty runs all configured processors")
	cmd.Flags().StringVar(&dateFlag, "date", "", "Value date (YYYY-MM-DD), defaults to yesterday")
	return cmd
}

// statusCommands prints the persisted run for a processor and date.
func statusCommands(b *reconInstance) *cobra.Command {
	var processor string
	var dateFlag string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a reconciliation run",
		Run: func(cmd *cobra.Command, args []string) {
			date, err := parseRunDate(dateFlag)
			if err != nil {
				log.Fatalf("invalid date %q, expected YYYY-MM-DD", dateFlag)
			}
			if processor == "" {
				log.Fatal("--processor is required")
			}

			run, err := b.recon.GetRunStatus(context.Background(), processor, date)
			if err != nil {
				if err == database.ErrRunNotFound {
					log.Fatalf("no run recorded for %s on %s", processor, date.Format("2006-01-02"))
				}
				log.Fatal(err)
			}

			fmt.Printf("%s  status=%s\n", run.Key().String(), run.Status)
			fmt.Println(run.Summary.String())
			if run.Reason != "" {
				fmt.Printf("reason: %s\n", run.Reason)
			}
		},
	}

	cmd.Flags().StringVar(&processor, "processor", "", "Processor name")
	cmd.Flags().StringVar(&dateFlag, "date", "", "Value date (YYYY-MM-DD), defaults to yesterday")
	return cmd
}

// unresolvedCommands lists open discrepancies as JSON, for piping into
// back-office tooling.
func unresolvedCommands(b *reconInstance) *cobra.Command {
	var processor string
	var maxAgeDays int

	cmd := &cobra.Command{
		Use:   "unresolved",
		Short: "List unresolved discrepancies",
		Run: func(cmd *cobra.Command, args []string) {
			items, err := b.recon.ListUnresolved(context.Background(), processor, maxAgeDays)
			if err != nil {
				log.Fatal(err)
			}
			if items == nil {
				items = []*model.DiscrepancyItem{}
			}
			out, err := json.MarshalIndent(items, "", "  ")
			if err != nil {
				log.Fatal(err)
			}
			fmt.Println(string(out))
		},
	}

	cmd.Flags().StringVar(&processor, "processor", "", "Filter by processor name")
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "Only items from runs within the last N days; 0 lists all")
	return cmd
}
