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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5401"

	// Reconciliation defaults. Tolerance is inclusive: a delta exactly equal
	// to it is still a match.
	DefaultAmountTolerance     = "0.01"
	DefaultTimingWindow        = time.Hour
	DefaultSimilarityThreshold = 0.8
	DefaultFetchTimeoutSec     = 30
	DefaultFetchRetries        = 2
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Port string `json:"port" envconfig:"RECON_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"RECON_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"RECON_REDIS_DNS"`
}

// LedgerConfig points at the core banking system's ledger export API.
type LedgerConfig struct {
	Url        string `json:"url" envconfig:"RECON_LEDGER_URL"`
	ApiKey     string `json:"api_key" envconfig:"RECON_LEDGER_API_KEY"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"RECON_LEDGER_TIMEOUT_SEC"`
}

// ProcessorConfig describes one external payment processor: where to fetch
// its transaction log and which internal GL accounts settle against it.
type ProcessorConfig struct {
	Name       string   `json:"name"`
	Url        string   `json:"url"`
	SecretKey  string   `json:"secret_key"`
	TimeoutSec int      `json:"timeout_sec"`
	GLCodes    []string `json:"gl_codes"`
}

type MatchingConfig struct {
	// MatchKeys is the ordered list of fields to join on.
	MatchKeys []string `json:"match_keys"`
	// AmountTolerance is a decimal string, e.g. "0.01" (1 kobo for NGN).
	AmountTolerance string `json:"amount_tolerance" envconfig:"RECON_AMOUNT_TOLERANCE"`
	// TimingWindowSec is the maximum acceptable timestamp difference for a
	// keyed pair before it is flagged as a timing discrepancy.
	TimingWindowSec int `json:"timing_window_sec" envconfig:"RECON_TIMING_WINDOW_SEC"`
}

// AutoResolveConfig controls the heuristic near-match pass. It is disabled by
// default: the pass can produce false positive reconciliations and its output
// needs human confirmation in compliance-sensitive deployments.
type AutoResolveConfig struct {
	Enabled             bool    `json:"enabled" envconfig:"RECON_AUTO_RESOLVE_ENABLED"`
	SimilarityThreshold float64 `json:"similarity_threshold" envconfig:"RECON_AUTO_RESOLVE_SIMILARITY"`
}

type Notification struct {
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string            `json:"project_name" envconfig:"RECON_PROJECT_NAME"`
	Server       ServerConfig      `json:"server"`
	DataSource   DataSourceConfig  `json:"data_source"`
	Redis        RedisConfig       `json:"redis"`
	Ledger       LedgerConfig      `json:"ledger"`
	Processors   []ProcessorConfig `json:"processors"`
	Matching     MatchingConfig    `json:"matching"`
	AutoResolve  AutoResolveConfig `json:"auto_resolve"`
	Notification Notification      `json:"notification"`
	FetchRetries int               `json:"fetch_retries" envconfig:"RECON_FETCH_RETRIES"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("recon", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called recon.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Recon Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if len(cnf.Matching.MatchKeys) == 0 {
		cnf.Matching.MatchKeys = []string{"reference"}
	}
	if cnf.Matching.AmountTolerance == "" {
		cnf.Matching.AmountTolerance = DefaultAmountTolerance
	}
	if _, err := decimal.NewFromString(cnf.Matching.AmountTolerance); err != nil {
		return errors.New("amount tolerance must be a valid decimal string")
	}
	if cnf.Matching.TimingWindowSec <= 0 {
		cnf.Matching.TimingWindowSec = int(DefaultTimingWindow / time.Second)
	}

	if cnf.AutoResolve.SimilarityThreshold <= 0 || cnf.AutoResolve.SimilarityThreshold > 1 {
		cnf.AutoResolve.SimilarityThreshold = DefaultSimilarityThreshold
	}

	if cnf.FetchRetries < 0 {
		cnf.FetchRetries = 0
	} else if cnf.FetchRetries == 0 {
		cnf.FetchRetries = DefaultFetchRetries
	}

	for i := range cnf.Processors {
		cnf.Processors[i].Name = strings.ToUpper(strings.TrimSpace(cnf.Processors[i].Name))
		if cnf.Processors[i].Name == "" {
			return errors.New("processor name is required")
		}
		if cnf.Processors[i].TimeoutSec <= 0 {
			cnf.Processors[i].TimeoutSec = DefaultFetchTimeoutSec
		}
	}
	if cnf.Ledger.TimeoutSec <= 0 {
		cnf.Ledger.TimeoutSec = DefaultFetchTimeoutSec
	}

	return nil
}

// AmountTolerance returns the configured tolerance as an exact decimal.
// validateAndAddDefaults has already rejected unparsable values.
func (cnf *Configuration) AmountTolerance() decimal.Decimal {
	d, err := decimal.NewFromString(cnf.Matching.AmountTolerance)
	if err != nil {
		d, _ = decimal.NewFromString(DefaultAmountTolerance)
	}
	return d
}

// TimingWindow returns the configured timing window as a duration.
func (cnf *Configuration) TimingWindow() time.Duration {
	return time.Duration(cnf.Matching.TimingWindowSec) * time.Second
}

// Processor looks up a processor configuration by name (case-insensitive).
func (cnf *Configuration) Processor(name string) (ProcessorConfig, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, p := range cnf.Processors {
		if p.Name == name {
			return p, true
		}
	}
	return ProcessorConfig{}, false
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
