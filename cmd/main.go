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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/weezyhq/recon"
	"github.com/weezyhq/recon/config"
	"github.com/weezyhq/recon/database"
	"github.com/weezyhq/recon/internal/notification"
	redis_db "github.com/weezyhq/recon/internal/redis-db"
	"github.com/weezyhq/recon/sources"
)

// ReconCli represents the CLI application, encapsulating the root Cobra command.
type ReconCli struct {
	cmd *cobra.Command
}

// reconInstance holds the reconciliation service and its configuration,
// shared by all subcommands.
type reconInstance struct {
	recon *recon.Recon
	cnf   *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the reconciliation service
// before any subcommand executes.
func preRun(app *reconInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("recon.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newRecon, err := setupRecon(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.recon = newRecon
		app.cnf = cnf
		return nil
	}
}

// setupRecon wires the service from configuration: the run store, the ledger
// client and the redis client backing the per-key run lock.
func setupRecon(cfg *config.Configuration) (*recon.Recon, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	redisClient, err := redis_db.NewRedisClient(cfg.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error connecting to redis: %v", err)
	}

	ledger := sources.NewLedgerSource(cfg.Ledger)
	return recon.NewRecon(db, ledger, redisClient.Client()), nil
}

// NewCLI creates the command-line interface for the reconciliation service.
func NewCLI() *ReconCli {
	var configFile string
	r := &reconInstance{}

	var rootCmd = &cobra.Command{
		Use:   "recon",
		Short: "Back-office bank reconciliation",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./recon.json", "Configuration file for the reconciliation service")
	rootCmd.PersistentPreRunE = preRun(r)

	rootCmd.AddCommand(runCommands(r))
	rootCmd.AddCommand(statusCommands(r))
	rootCmd.AddCommand(unresolvedCommands(r))
	rootCmd.AddCommand(serverCommands(r))
	rootCmd.AddCommand(migrateCommands(r))

	return &ReconCli{cmd: rootCmd}
}

func (w ReconCli) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
