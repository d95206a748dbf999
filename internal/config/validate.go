// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	perrors "github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/errors"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/topic"
)

func validate(f *File) error {
	if f.Global.MaxMessageSize < 1024 || f.Global.MaxMessageSize > 100<<20 {
		return invalid("global.max_message_size must be between 1KiB and 100MiB")
	}

	if err := validateBroker("brokers.subscriber", f.Brokers.Subscriber); err != nil {
		return err
	}
	if err := validateBroker("brokers.publisher", f.Brokers.Publisher); err != nil {
		return err
	}

	switch f.Validation.ValidationMode {
	case "strict", "lenient", "warn_only":
	default:
		return invalid(fmt.Sprintf("validation.validation_mode %q must be strict, lenient, or warn_only", f.Validation.ValidationMode))
	}

	for _, p := range f.Validation.TopicPatterns {
		if err := topic.ValidatePatternSyntax(p); err != nil {
			return invalid(fmt.Sprintf("validation.topic_patterns: %v", err))
		}
	}

	knownSchemas := make(map[string]bool, len(f.Validation.SchemaFiles))
	for _, sf := range f.Validation.SchemaFiles {
		if sf.ID == "" || sf.Path == "" {
			return invalid("validation.schema_files entries require id and path")
		}
		switch sf.Kind {
		case "json_schema", "protobuf", "":
		default:
			return invalid(fmt.Sprintf("validation.schema_files[%s].kind %q is not json_schema or protobuf", sf.ID, sf.Kind))
		}
		knownSchemas[sf.ID] = true
	}
	for _, m := range f.Validation.SchemaMappings {
		if !knownSchemas[m.SchemaID] {
			return invalid(fmt.Sprintf("validation.schema_mappings references unknown schema_id %q", m.SchemaID))
		}
	}

	switch f.Storage.Quarantine.Driver {
	case "embedded", "postgres", "mysql":
	default:
		return invalid(fmt.Sprintf("storage.quarantine.driver %q must be embedded, postgres, or mysql", f.Storage.Quarantine.Driver))
	}
	switch f.Storage.Payloads.Compression {
	case "none", "gzip", "lz4", "zstd":
	default:
		return invalid(fmt.Sprintf("storage.payloads.compression %q must be none, gzip, lz4, or zstd", f.Storage.Payloads.Compression))
	}
	switch f.Storage.Payloads.Driver {
	case "local", "gcs":
	default:
		return invalid(fmt.Sprintf("storage.payloads.driver %q must be local or gcs", f.Storage.Payloads.Driver))
	}
	if f.Storage.Payloads.Driver == "gcs" && f.Storage.Payloads.GCSBucket == "" {
		return invalid("storage.payloads.gcs_bucket is required when driver is gcs")
	}

	if f.Performance.WorkerThreads < 1 {
		return invalid("performance.worker_threads must be at least 1")
	}
	if f.Performance.MessageBufferSize < 1 {
		return invalid("performance.message_buffer_size must be at least 1")
	}

	return nil
}

func validateBroker(prefix string, b BrokerFile) error {
	switch b.Transport {
	case "tcp", "tls":
		if b.Address == "" {
			return invalid(fmt.Sprintf("%s.address is required for transport %q", prefix, b.Transport))
		}
	case "websocket":
		if b.URL == "" {
			return invalid(fmt.Sprintf("%s.url is required for transport websocket", prefix))
		}
	default:
		return invalid(fmt.Sprintf("%s.transport %q must be tcp, tls, or websocket", prefix, b.Transport))
	}
	return nil
}

func invalid(detail string) error {
	return perrors.New("validate", "config", "", detail, perrors.ErrConfigInvalid)
}
