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
	"net/http"

	"github.com/spf13/cobra"

	"github.com/weezyhq/recon/api"
)

// serverCommands starts the HTTP API: run triggering, run status and the
// unresolved-discrepancy listing.
func serverCommands(b *reconInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the reconciliation API server",
		Run: func(cmd *cobra.Command, args []string) {
			router := api.NewAPI(b.recon).Router()
			port := b.cnf.Server.Port

			server := &http.Server{Addr: ":" + port, Handler: router}
			log.Printf("Starting reconciliation server on %s", port)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start server: %v", err)
			}
		},
	}
	return cmd
}
