// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package schema compiles and validates JSON Schema and Protobuf payload
// contracts, with a bounded result cache keyed by (schema id, payload
// hash) to short-circuit repeated identical payloads.
package schema

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	perrors "github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/errors"
)

// Kind identifies which family of schema compiler backs a Schema.
type Kind string

const (
	KindJSONSchema Kind = "JsonSchema"
	KindProtobuf   Kind = "Protobuf"
)

// Mode controls how validation failures are treated.
type Mode string

const (
	ModeStrict   Mode = "strict"
	ModeLenient  Mode = "lenient"
	ModeWarnOnly Mode = "warn_only"
)

// Machine-readable validation failure codes.
const (
	CodeTypeMismatch       = "schema.type_mismatch"
	CodeMissingRequired    = "schema.missing_required"
	CodeOutOfRange         = "schema.out_of_range"
	CodeAdditionalProperty = "schema.additional_property"
	CodeProtobufParseError = "protobuf.parse_error"
)

// ValidationError describes why a payload failed validation.
type ValidationError struct {
	Code    string
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Code, e.Path, e.Message)
}

// FileSpec names one schema to compile at load time.
type FileSpec struct {
	ID          string
	Kind        Kind
	SourcePath  string // JSON Schema document, or a serialized FileDescriptorSet for Protobuf
	Draft       string // draft-04, draft-06, draft-07; JSON Schema only, default draft-07
	MessageType string // fully-qualified protobuf message name; Protobuf only
}

// LoadConfig is everything the registry needs to compile its schema set.
type LoadConfig struct {
	Files     []FileSpec
	Mode      Mode
	CacheSize int
}

type compiled struct {
	id          string
	kind        Kind
	sourcePath  string
	loadedAt    time.Time
	contentHash [32]byte // sha256 of the raw source file plus its draft or message type, used to detect no-op reloads

	jsonSchema *jsonschema.Schema
	protoType  protoreflect.MessageType
}

// Registry loads, compiles, and caches schemas, and validates payloads
// against them.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*compiled
	mode    Mode
	cache   *resultCache
}

// NewRegistry constructs an empty registry; call LoadAll to populate it.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*compiled)}
}

// LoadAll compiles every configured schema. It is atomic in effect: on any
// compile error, the registry's previously loaded state is left untouched
// and the error is returned for the caller to treat as fatal at startup.
//
// The result cache survives a reload; only the schema ids whose compiled
// form actually changed (by content hash) or that were removed have their
// cached verdicts dropped via InvalidateSchema, so a SIGHUP that edits one
// schema file does not cold-start validation-result caching for every
// other schema.
func (r *Registry) LoadAll(cfg LoadConfig) error {
	next := make(map[string]*compiled, len(cfg.Files))

	for _, f := range cfg.Files {
		c, err := compile(f)
		if err != nil {
			return perrors.New("LoadAll", "SchemaRegistry", "", f.ID, err)
		}
		next[f.ID] = c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.schemas
	cache := r.cache
	if cache == nil || cache.Capacity() != effectiveCacheSize(cfg.CacheSize) {
		cache = newResultCache(cfg.CacheSize)
	} else {
		for id, prev := range previous {
			cur, stillBound := next[id]
			if !stillBound || cur.contentHash != prev.contentHash {
				cache.InvalidateSchema(id)
			}
		}
	}

	r.schemas = next
	r.mode = cfg.Mode
	if r.mode == "" {
		r.mode = ModeStrict
	}
	r.cache = cache
	return nil
}

func effectiveCacheSize(n int) int {
	if n <= 0 {
		return 1000
	}
	return n
}

func compile(f FileSpec) (*compiled, error) {
	switch f.Kind {
	case KindJSONSchema:
		return compileJSONSchema(f)
	case KindProtobuf:
		return compileProtobuf(f)
	default:
		return nil, fmt.Errorf("unknown schema kind %q", f.Kind)
	}
}

func compileJSONSchema(f FileSpec) (*compiled, error) {
	draft := jsonschema.Draft7
	switch f.Draft {
	case "draft-04":
		draft = jsonschema.Draft4
	case "draft-06":
		draft = jsonschema.Draft6
	case "draft-07", "":
		draft = jsonschema.Draft7
	}

	c := jsonschema.NewCompiler()
	c.DefaultDraft(draft)

	data, err := os.ReadFile(f.SourcePath)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytesReader(data))
	if err != nil {
		return nil, err
	}
	if err := c.AddResource(f.SourcePath, doc); err != nil {
		return nil, err
	}
	sch, err := c.Compile(f.SourcePath)
	if err != nil {
		return nil, err
	}

	return &compiled{
		id:          f.ID,
		kind:        KindJSONSchema,
		sourcePath:  f.SourcePath,
		loadedAt:    time.Now(),
		contentHash: sha256.Sum256(append(append([]byte{}, data...), []byte(f.Draft)...)),
		jsonSchema:  sch,
	}, nil
}

func compileProtobuf(f FileSpec) (*compiled, error) {
	data, err := os.ReadFile(f.SourcePath)
	if err != nil {
		return nil, err
	}

	fdSet := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(data, fdSet); err != nil {
		return nil, err
	}

	files, err := protodesc.NewFiles(fdSet)
	if err != nil {
		return nil, err
	}

	desc, err := files.FindDescriptorByName(protoreflect.FullName(f.MessageType))
	if err != nil {
		return nil, err
	}
	md, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("%s is not a message type", f.MessageType)
	}

	return &compiled{
		id:          f.ID,
		kind:        KindProtobuf,
		sourcePath:  f.SourcePath,
		loadedAt:    time.Now(),
		contentHash: sha256.Sum256(append(append([]byte{}, data...), []byte(f.MessageType)...)),
		protoType:   dynamicpb.NewMessageType(md),
	}, nil
}

// GetKind reports which compiler backs a schema id.
func (r *Registry) GetKind(schemaID string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.schemas[schemaID]
	if !ok {
		return "", false
	}
	return c.kind, true
}

// Validate checks payload against the compiled schema bound to schemaID,
// consulting and populating the result cache first. It returns the
// mode-adjusted verdict (nil on success, or when Mode is warn_only) as the
// first value, and the raw pre-mode violation as the second value so the
// pipeline can still emit a warning audit event under warn_only.
func (r *Registry) Validate(schemaID string, payload []byte) (*ValidationError, *ValidationError) {
	r.mu.RLock()
	c, ok := r.schemas[schemaID]
	mode := r.mode
	cache := r.cache
	r.mu.RUnlock()

	if !ok {
		verr := &ValidationError{Code: CodeProtobufParseError, Path: "", Message: "schema not found: " + schemaID}
		return verr, verr
	}

	key := cacheKey{schemaID: schemaID, payloadHash: sha256.Sum256(payload)}
	if cache != nil {
		if verdict, found := cache.Get(key); found {
			return applyMode(mode, verdict), verdict
		}
	}

	var verdict *ValidationError
	switch c.kind {
	case KindJSONSchema:
		verdict = validateJSONSchema(c, payload, mode)
	case KindProtobuf:
		verdict = validateProtobuf(c, payload)
	}

	if cache != nil {
		cache.Put(key, verdict)
	}
	return applyMode(mode, verdict), verdict
}

func applyMode(mode Mode, verdict *ValidationError) *ValidationError {
	if mode == ModeWarnOnly {
		return nil
	}
	return verdict
}

func validateJSONSchema(c *compiled, payload []byte, mode Mode) *ValidationError {
	var v interface{}
	if err := jsonUnmarshal(payload, &v); err != nil {
		return &ValidationError{Code: CodeTypeMismatch, Path: "", Message: err.Error()}
	}

	err := c.jsonSchema.Validate(v)
	if err == nil {
		return nil
	}

	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &ValidationError{Code: CodeTypeMismatch, Path: "", Message: err.Error()}
	}

	if mode == ModeLenient && isAdditionalPropertyOnly(verr) {
		return nil
	}

	return classifyJSONSchemaError(verr)
}

func classifyJSONSchemaError(verr *jsonschema.ValidationError) *ValidationError {
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	path := ""
	for _, tok := range leaf.InstanceLocation {
		path += "/" + tok
	}
	if path == "" {
		path = "/"
	}

	code := CodeTypeMismatch
	msg := leaf.Error()
	switch {
	case containsAny(msg, "required"):
		code = CodeMissingRequired
	case containsAny(msg, "additionalProperties", "additional properties"):
		code = CodeAdditionalProperty
	case containsAny(msg, "minimum", "maximum", "range"):
		code = CodeOutOfRange
	}

	return &ValidationError{Code: code, Path: path, Message: msg}
}

func isAdditionalPropertyOnly(verr *jsonschema.ValidationError) bool {
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return containsAny(leaf.Error(), "additionalProperties", "additional properties")
}

func validateProtobuf(c *compiled, payload []byte) *ValidationError {
	msg := c.protoType.New().Interface()
	if err := proto.Unmarshal(payload, msg); err != nil {
		return &ValidationError{Code: CodeProtobufParseError, Path: "", Message: err.Error()}
	}
	return nil
}
