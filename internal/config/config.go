/*
Copyright 2025 Jordi Gil.

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

// Package config loads and validates the YAML-driven pipeline
// configuration: which report queries to run, which customers to run them
// for, and the storage/freshness settings that govern scheduling.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	validatorpkg "github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
)

const configPathEnvVar = "GADS_CONFIG_PATH"
const defaultConfigPath = "config/google_apis.yaml"

// QueryDefinition names one Google Ads report query: the resource it reads,
// the column used for incremental syncs, and the fields to select.
type QueryDefinition struct {
	Name       string   `yaml:"name" validate:"required"`
	Entity     string   `yaml:"entity" validate:"required"`
	DateColumn string   `yaml:"date_column" validate:"required"`
	Fields     []string `yaml:"fields" validate:"required,min=1"`
}

// GoogleAdsConfig configures access to the Google Ads reporting API and the
// set of report queries to extract.
type GoogleAdsConfig struct {
	APIVersion         string            `yaml:"api_version" validate:"required"`
	LoginCustomerID    string            `yaml:"login_customer_id" validate:"required"`
	ManagerAccountID   string            `yaml:"manager_account_id" validate:"required"`
	CustomerIDs        []string          `yaml:"customer_ids" validate:"required,min=1"`
	AdsResourceQueries []QueryDefinition `yaml:"ads_resource_queries"`
	IncrementalKeys    map[string]string `yaml:"incremental_keys"`
}

// UnmarshalYAML allows customer_ids to be written either as a YAML sequence
// or as a single comma-separated string, matching the loader this was
// ported from.
func (g *GoogleAdsConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain GoogleAdsConfig
	var raw plain
	customerIDsNode := findMapValue(value, "customer_ids")
	decodeNode := value
	if customerIDsNode != nil && customerIDsNode.Kind == yaml.ScalarNode {
		// A scalar cannot decode into []string, so the remaining fields are
		// decoded from a copy of the mapping without the customer_ids pair.
		trimmed := *value
		trimmed.Content = nil
		for i := 0; i+1 < len(value.Content); i += 2 {
			if value.Content[i+1] != customerIDsNode {
				trimmed.Content = append(trimmed.Content, value.Content[i], value.Content[i+1])
			}
		}
		decodeNode = &trimmed
	}
	if err := decodeNode.Decode(&raw); err != nil {
		return err
	}
	*g = GoogleAdsConfig(raw)

	if customerIDsNode != nil && customerIDsNode.Kind == yaml.ScalarNode {
		var joined string
		if err := customerIDsNode.Decode(&joined); err != nil {
			return err
		}
		var ids []string
		for _, part := range strings.Split(joined, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				ids = append(ids, part)
			}
		}
		g.CustomerIDs = ids
	}
	return nil
}

func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// GoogleMerchantSchedule names a recurring Google Merchant Center export.
type GoogleMerchantSchedule struct {
	Name      string `yaml:"name" validate:"required"`
	Frequency string `yaml:"frequency" validate:"required"`
	ChunkSize int    `yaml:"chunk_size"`
}

// GoogleMerchantConfig configures the (optional) Google Merchant Center
// extractor. It is carried through configuration even though no extractor
// in this module consumes it yet.
type GoogleMerchantConfig struct {
	Enabled    bool                     `yaml:"enabled"`
	Resource   string                   `yaml:"resource"`
	APIVersion string                   `yaml:"api_version"`
	MerchantID string                   `yaml:"merchant_id"`
	Schedules  []GoogleMerchantSchedule `yaml:"schedules"`
}

// StorageConfig names the warehouse and lake locations the pipeline
// publishes to.
type StorageConfig struct {
	WarehouseURI    string `yaml:"warehouse_uri" validate:"required"`
	LakeBucket      string `yaml:"lake_bucket" validate:"required"`
	StateStoreTable string `yaml:"state_store_table" validate:"required"`
}

// MetadataConfig carries the scheduling and labeling defaults that aren't
// specific to any one extractor.
type MetadataConfig struct {
	DatasetTimezone   string `yaml:"dataset_timezone"`
	DefaultCurrency   string `yaml:"default_currency"`
	CatchUpWindowDays int    `yaml:"catch_up_window_days"`
	LookbackDaysDaily int    `yaml:"lookback_days_daily"`
}

// ExtractorsConfig groups the per-source extractor configurations.
type ExtractorsConfig struct {
	GoogleAds      GoogleAdsConfig       `yaml:"google_ads" validate:"required"`
	GoogleMerchant *GoogleMerchantConfig `yaml:"google_merchant"`
}

// PipelineConfig is the root of the YAML-driven configuration tree.
type PipelineConfig struct {
	Metadata   MetadataConfig   `yaml:"metadata"`
	Storage    StorageConfig    `yaml:"storage" validate:"required"`
	Extractors ExtractorsConfig `yaml:"extractors" validate:"required"`
}

func applyDefaults(cfg *PipelineConfig) {
	if cfg.Metadata.DatasetTimezone == "" {
		cfg.Metadata.DatasetTimezone = "UTC"
	}
	if cfg.Metadata.DefaultCurrency == "" {
		cfg.Metadata.DefaultCurrency = "USD"
	}
	if cfg.Metadata.CatchUpWindowDays == 0 {
		cfg.Metadata.CatchUpWindowDays = 30
	}
	if cfg.Metadata.LookbackDaysDaily == 0 {
		cfg.Metadata.LookbackDaysDaily = 2
	}
	if cfg.Extractors.GoogleMerchant != nil {
		for i := range cfg.Extractors.GoogleMerchant.Schedules {
			if cfg.Extractors.GoogleMerchant.Schedules[i].ChunkSize == 0 {
				cfg.Extractors.GoogleMerchant.Schedules[i].ChunkSize = 1000
			}
		}
	}
}

var structValidator = validatorpkg.New()

// Load reads and validates the pipeline configuration at path. If path is
// empty, it falls back to the GADS_CONFIG_PATH environment variable, then
// to config/google_apis.yaml.
func Load(path string) (*PipelineConfig, error) {
	if path == "" {
		path = os.Getenv(configPathEnvVar)
	}
	if path == "" {
		path = defaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pipelineerrors.NewConfigError("configuration file not found").WithDetailsf("path=%s", path)
		}
		return nil, pipelineerrors.NewConfigError("read configuration file").WithDetails(err.Error())
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, pipelineerrors.NewConfigError("invalid configuration").WithDetails(err.Error())
	}

	applyDefaults(&cfg)

	if err := structValidator.Struct(&cfg); err != nil {
		return nil, pipelineerrors.NewConfigError("invalid configuration").WithDetails(err.Error())
	}

	return &cfg, nil
}

// GetQuery finds the named report query definition, or an error if no
// such query is configured.
func (c *PipelineConfig) GetQuery(name string) (QueryDefinition, error) {
	for _, q := range c.Extractors.GoogleAds.AdsResourceQueries {
		if q.Name == name {
			return q, nil
		}
	}
	return QueryDefinition{}, pipelineerrors.NewConfigError(
		fmt.Sprintf("query definition %q not found in configuration", name),
	)
}

// Watch reloads path whenever it changes on disk and calls onChange with
// the freshly loaded configuration. It blocks until ctx is canceled or the
// underlying filesystem watcher fails to start, and is meant for the
// long-lived observability/HTTP surface (internal/httpapi) that stays up
// between daily/catch-up runs; one-shot CLI commands don't need it. A
// reload that fails to parse is logged and the previous configuration is
// left in place — onChange is never called with a nil config.
func Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(*PipelineConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pipelineerrors.NewConfigError("start config watcher").WithDetails(err.Error())
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return pipelineerrors.NewConfigError("watch config directory").WithDetailsf("dir=%s: %s", dir, err.Error())
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			eventPath, err := filepath.Abs(event.Name)
			if err != nil {
				eventPath = event.Name
			}
			if eventPath != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload failed, keeping previous configuration",
					zap.String("path", path), zap.Error(err))
				continue
			}
			logger.Info("configuration reloaded", zap.String("path", path))
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
