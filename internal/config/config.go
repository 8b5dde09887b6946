// Package config loads the TestRail connection settings from a YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/raphi011/testrail/client"
	"gopkg.in/yaml.v3"
)

const (
	EnvDomain     = "TESTRAIL_DOMAIN"
	EnvProjectID  = "TESTRAIL_PROJECT_ID"
	EnvUsername   = "TESTRAIL_USERNAME"
	EnvAPIToken   = "TESTRAIL_API_TOKEN"
	EnvIncludeAll = "TESTRAIL_INCLUDE_ALL"
)

// Load reads the configuration file at path (skipped if path is empty) and
// applies environment overrides on top.
func Load(path string) (client.Config, error) {
	var cfg client.Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return client.Config{}, fmt.Errorf("reading config file: %w", err)
		}

		if err = yaml.Unmarshal(b, &cfg); err != nil {
			return client.Config{}, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return client.Config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *client.Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDomain); ok {
		cfg.Domain = v
	}
	if v, ok := lookup(EnvUsername); ok {
		cfg.Username = v
	}
	if v, ok := lookup(EnvAPIToken); ok {
		cfg.APIToken = v
	}
	if v, ok := lookup(EnvProjectID); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvProjectID, err)
		}
		cfg.ProjectID = id
	}
	if v, ok := lookup(EnvIncludeAll); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvIncludeAll, err)
		}
		cfg.IncludeAll = b
	}

	return nil
}

// Validate reports every missing or invalid setting at once.
func Validate(cfg client.Config) error {
	var errs []error

	if cfg.Domain == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	if cfg.ProjectID <= 0 {
		errs = append(errs, fmt.Errorf("project id must be positive, got %d", cfg.ProjectID))
	}
	if cfg.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if cfg.APIToken == "" {
		errs = append(errs, errors.New("api token is required"))
	}

	return errors.Join(errs...)
}
