package orchestrator

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/lexgate/lexgate/core/infra/schema"
)

// CommandSchemas holds the JSON schemas commands are validated against,
// keyed by command type. Types without a registered schema pass validation
// untouched; the worker owns their shape.
type CommandSchemas struct {
	mu       sync.RWMutex
	payloads map[string]string
	results  map[string]string
}

func NewCommandSchemas() *CommandSchemas {
	return &CommandSchemas{
		payloads: make(map[string]string),
		results:  make(map[string]string),
	}
}

// RegisterType installs the payload and result schemas for a command type.
// Either schema may be empty to skip that side.
func (s *CommandSchemas) RegisterType(commandType, payloadSchema, resultSchema string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payloadSchema != "" {
		s.payloads[commandType] = payloadSchema
	}
	if resultSchema != "" {
		s.results[commandType] = resultSchema
	}
}

// Types lists every command type with a registered payload or result schema.
func (s *CommandSchemas) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.payloads)+len(s.results))
	for t := range s.payloads {
		seen[t] = struct{}{}
	}
	for t := range s.results {
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *CommandSchemas) ValidatePayload(commandType string, payload json.RawMessage) error {
	s.mu.RLock()
	doc, ok := s.payloads[commandType]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return schema.Validate(commandType+"/payload", []byte(doc), payload)
}

func (s *CommandSchemas) ValidateResult(commandType string, result json.RawMessage) error {
	s.mu.RLock()
	doc, ok := s.results[commandType]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return schema.Validate(commandType+"/result", []byte(doc), result)
}

const financeTransferPayloadSchema = `{
	"type": "object",
	"required": ["amount", "currency", "beneficiary"],
	"properties": {
		"amount": {"type": "number", "exclusiveMinimum": 0},
		"currency": {"type": "string", "minLength": 3, "maxLength": 3},
		"beneficiary": {"type": "string", "minLength": 1},
		"reference": {"type": "string"}
	}
}`

const financeTransferResultSchema = `{
	"type": "object",
	"required": ["transaction_id", "settled"],
	"properties": {
		"transaction_id": {"type": "string", "minLength": 1},
		"settled": {"type": "boolean"},
		"settled_at": {"type": "string"}
	}
}`

const legalResearchPayloadSchema = `{
	"type": "object",
	"required": ["question", "jurisdiction"],
	"properties": {
		"question": {"type": "string", "minLength": 1},
		"jurisdiction": {"type": "string", "minLength": 2},
		"sources": {"type": "array", "items": {"type": "string"}}
	}
}`

// DefaultCommandSchemas returns the registry pre-loaded with the built-in
// command types.
func DefaultCommandSchemas() *CommandSchemas {
	s := NewCommandSchemas()
	s.RegisterType("finance.transfer", financeTransferPayloadSchema, financeTransferResultSchema)
	s.RegisterType("legal.research", legalResearchPayloadSchema, "")
	return s
}
