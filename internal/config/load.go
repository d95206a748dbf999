// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads path as YAML, applies environment variable overrides (loading
// a ".env" file first when present), applies each "key=value" override in
// order, defaults unset fields, and validates the result into a Snapshot.
func Load(path string, overrides []string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, invalid(fmt.Sprintf("reading config file %q: %v", path, err))
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, invalid(fmt.Sprintf("parsing config file %q: %v", path, err))
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, invalid(fmt.Sprintf("loading .env: %v", err))
	}
	if err := env.Parse(&f); err != nil {
		return nil, invalid(fmt.Sprintf("applying environment overrides: %v", err))
	}

	for _, kv := range overrides {
		if err := applyOverride(&f, kv); err != nil {
			return nil, invalid(fmt.Sprintf("applying --override %q: %v", kv, err))
		}
	}

	applyDefaults(&f)

	if err := validate(&f); err != nil {
		return nil, err
	}

	return buildSnapshot(&f)
}

// applyOverride sets a single dotted-path "key=value" pair on the file
// struct, covering the handful of fields operators most commonly need to
// override at the command line without editing the file (dry_run, log
// level, worker/queue sizing).
func applyOverride(f *File, kv string) error {
	parts := strings.SplitN(kv, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected key=value")
	}
	key, val := parts[0], parts[1]

	switch key {
	case "global.dry_run":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		f.Global.DryRun = b
	case "global.log_level":
		f.Global.LogLevel = val
	case "global.max_message_size":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		f.Global.MaxMessageSize = n
	case "performance.worker_threads":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		f.Performance.WorkerThreads = n
	case "performance.message_buffer_size":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		f.Performance.MessageBufferSize = n
	case "validation.validation_mode":
		f.Validation.ValidationMode = val
	default:
		return fmt.Errorf("unknown override key %q", key)
	}
	return nil
}
