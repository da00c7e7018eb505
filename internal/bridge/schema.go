package bridge

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/windi/backend/internal/signal"
)

// packetSchema is the strict boundary schema for inbound wire packets.
// Structural shape lives here; closed-registry membership (codes, events)
// is checked against the compiled-in registry afterwards, since the
// registry is code, not schema.
const packetSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["header", "payload", "auth"],
  "properties": {
    "header": {
      "type": "object",
      "required": ["v", "kid", "cid", "ts", "nonce", "seq"],
      "properties": {
        "v":     {"type": "string"},
        "kid":   {"type": "string", "minLength": 1},
        "cid":   {"type": "string", "minLength": 1},
        "ts":    {"type": "integer"},
        "nonce": {"type": "string", "minLength": 1},
        "seq":   {"type": "integer"}
      }
    },
    "payload": {
      "type": "object",
      "required": ["shelf", "code", "weight", "event"],
      "properties": {
        "shelf":  {"type": "string", "pattern": "^S[1-7]$"},
        "code":   {"type": "string", "minLength": 1},
        "weight": {"type": "integer", "minimum": 0, "maximum": 100},
        "event":  {"type": "string", "minLength": 1},
        "domain_hash":     {"type": "string"},
        "doc_fingerprint": {"type": "string"},
        "ctx": {"type": "object"}
      }
    },
    "auth": {
      "type": "object",
      "required": ["sig"],
      "properties": {
        "sig": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var compiledPacketSchema = jsonschema.MustCompileString("micro-signal.json", packetSchema)

// validateSchema runs the boundary checks of pipeline step 1 and decodes
// the packet. Every failure maps to a stable SCHEMA:* code.
func validateSchema(raw []byte) (*signal.WirePacket, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, signal.Errf(signal.CodeSchemaMalformed, "%v", err)
	}
	if err := compiledPacketSchema.Validate(generic); err != nil {
		return nil, schemaErrorFor(raw, err)
	}

	var pkt signal.WirePacket
	if err := json.Unmarshal(raw, &pkt); err != nil {
		return nil, signal.Errf(signal.CodeSchemaMalformed, "%v", err)
	}

	if pkt.Header.V != signal.ProtocolVersion {
		return nil, signal.Errf(signal.CodeSchemaBadVersion, "v=%s want=%s", pkt.Header.V, signal.ProtocolVersion)
	}
	if !signal.ValidShelf(pkt.Payload.Shelf) {
		return nil, signal.Errf(signal.CodeSchemaInvalidShelf, "shelf=%s", pkt.Payload.Shelf)
	}
	def, ok := signal.Lookup(pkt.Payload.Code)
	if !ok {
		return nil, signal.Errf(signal.CodeSchemaUnknownCode, "code=%s", pkt.Payload.Code)
	}
	if def.Shelf != pkt.Payload.Shelf {
		return nil, signal.Errf(signal.CodeSchemaInvalidShelf, "code=%s belongs to %s not %s", pkt.Payload.Code, def.Shelf, pkt.Payload.Shelf)
	}
	if !signal.ValidEvent(pkt.Payload.Event) {
		return nil, signal.Errf(signal.CodeSchemaUnknownEvent, "event=%s", pkt.Payload.Event)
	}
	return &pkt, nil
}

// schemaErrorFor narrows a jsonschema validation error to the most
// specific stable code we can attribute without re-walking the document.
func schemaErrorFor(raw []byte, err error) error {
	var probe struct {
		Payload *struct {
			Shelf  *string `json:"shelf"`
			Weight *int    `json:"weight"`
		} `json:"payload"`
	}
	if json.Unmarshal(raw, &probe) == nil && probe.Payload != nil {
		if w := probe.Payload.Weight; w != nil && (*w < 0 || *w > 100) {
			return signal.Errf(signal.CodeSchemaInvalidWeight, "weight=%d", *w)
		}
		if s := probe.Payload.Shelf; s != nil && !signal.ValidShelf(*s) {
			return signal.Errf(signal.CodeSchemaInvalidShelf, "shelf=%s", *s)
		}
	}
	var sections struct {
		Header  json.RawMessage `json:"header"`
		Payload json.RawMessage `json:"payload"`
		Auth    json.RawMessage `json:"auth"`
	}
	if json.Unmarshal(raw, &sections) == nil {
		if sections.Header == nil || sections.Payload == nil || sections.Auth == nil {
			return signal.Errf(signal.CodeSchemaMissingSection, "%v", err)
		}
	}
	return signal.Errf(signal.CodeSchemaMalformed, "%v", err)
}
