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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Configuration {
	return Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432/recon"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Processors: []ProcessorConfig{{Name: " paystack ", Url: "https://api.paystack.co/transaction"}},
	}
}

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := validConfig()
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, []string{"reference"}, cnf.Matching.MatchKeys)
	assert.Equal(t, DefaultAmountTolerance, cnf.Matching.AmountTolerance)
	assert.Equal(t, DefaultTimingWindow, cnf.TimingWindow())
	assert.Equal(t, DefaultSimilarityThreshold, cnf.AutoResolve.SimilarityThreshold)
	assert.Equal(t, DefaultFetchRetries, cnf.FetchRetries)

	// Processor names are canonicalized to upper case.
	assert.Equal(t, "PAYSTACK", cnf.Processors[0].Name)
	assert.Equal(t, DefaultFetchTimeoutSec, cnf.Processors[0].TimeoutSec)
}

func TestValidateRequiresDataSource(t *testing.T) {
	cnf := validConfig()
	cnf.DataSource.Dns = ""
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestValidateRequiresRedis(t *testing.T) {
	cnf := validConfig()
	cnf.Redis.Dns = ""
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestValidateRejectsBadTolerance(t *testing.T) {
	cnf := validConfig()
	cnf.Matching.AmountTolerance = "one kobo"
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestAmountToleranceParsesConfiguredValue(t *testing.T) {
	cnf := validConfig()
	cnf.Matching.AmountTolerance = "0.50"
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, "0.50", cnf.AmountTolerance().StringFixed(2))
}

func TestTimingWindowFromSeconds(t *testing.T) {
	cnf := validConfig()
	cnf.Matching.TimingWindowSec = 7200
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, 2*time.Hour, cnf.TimingWindow())
}

func TestProcessorLookupIsCaseInsensitive(t *testing.T) {
	cnf := validConfig()
	require.NoError(t, cnf.validateAndAddDefaults())

	p, ok := cnf.Processor("PayStack")
	require.True(t, ok)
	assert.Equal(t, "PAYSTACK", p.Name)

	_, ok = cnf.Processor("FLUTTERWAVE")
	assert.False(t, ok)
}

func TestMockConfig(t *testing.T) {
	cnf := validConfig()
	MockConfig(&cnf)

	fetched, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, &cnf, fetched)
}
