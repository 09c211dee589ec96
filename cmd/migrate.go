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
	"log"

	"github.com/spf13/cobra"

	"github.com/weezyhq/recon/database"
)

// migrateCommands ensures the reconciliation schema exists. Connecting runs
// the idempotent bootstrap, so this doubles as a connectivity check before
// first deploy.
func migrateCommands(b *reconInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the reconciliation database schema",
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := database.GetDBConnection(b.cnf); err != nil {
				log.Fatalf("migration failed: %v", err)
			}
			log.Println("reconciliation schema is up to date")
		},
	}
	return cmd
}
