// Package envelope provides the canonical message record exchanged between
// agents and the workflow engine. Every inter-agent communication in the
// fabric is wrapped in an Envelope: routing, priority, retry policy,
// acknowledgement, and the hop trace all live here rather than in
// per-agent ad-hoc structures.
//
// Encoding is self-describing: Encode/Decode round-trip through JSON by
// default or through msgpack when a more compact wire form is preferred.
// Both codecs decode back into the same Go type. Only the JSON codec
// preserves unknown top-level fields for forward compatibility (stashed
// in an internal raw-properties bag and re-emitted on the next encode);
// msgpack is the compact wire form for agents that don't need that
// guarantee.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind is the semantic category of an envelope.
type Kind string

const (
	KindRequest      Kind = "request"
	KindResponse     Kind = "response"
	KindNotification Kind = "notification"
	KindPublish      Kind = "publish"
	KindBroadcast    Kind = "broadcast"
	KindAck          Kind = "ack"
	KindError        Kind = "error"
)

// Priority orders delivery within a recipient's queue.
// Higher numeric value drains first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// RetryPolicy names a backoff strategy and its parameters.
// The concrete delay computation lives in internal/retry; the envelope
// only carries the declaration so it travels with the message rather
// than living in handler-side metadata.
type RetryPolicy struct {
	Strategy    string  `json:"strategy"` // immediate | linear | exponential | fibonacci
	StepMs      int64   `json:"step_ms,omitempty"`
	BaseMs      int64   `json:"base_ms,omitempty"`
	Factor      float64 `json:"factor,omitempty"`
	CapMs       int64   `json:"cap_ms,omitempty"`
	MaxAttempts int     `json:"max_attempts,omitempty"`
}

// Hop is one fabric transit event appended to an envelope's trace.
type Hop struct {
	AgentID string    `json:"agent_id"`
	Action  string    `json:"action"`
	At      time.Time `json:"at"`
}

// Envelope is the immutable-once-accepted message record.
// Fields are exported for JSON/msgpack round-tripping; callers should
// treat an Envelope as read-only after it has been handed to the fabric.
// The accumulated Trace is held by the tracer, not copied into envelopes
// delivered to recipients, matching its invariant.
type Envelope struct {
	MessageID     string `json:"message_id"`
	CorrelationID string `json:"correlation_id,omitempty"`

	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Kind      Kind   `json:"kind"`

	Priority Priority `json:"priority"`

	Payload json.RawMessage `json:"payload"`

	Timestamp time.Time `json:"timestamp"`
	TTLMs     int64     `json:"ttl_ms,omitempty"`

	RequiresAck bool `json:"requires_ack,omitempty"`

	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty"`

	// Headers/Properties carry application-specific fields a sender
	// attaches deliberately.
	Headers    map[string]string      `json:"headers,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`

	// unknown holds top-level JSON fields this version of Envelope
	// doesn't recognize, so a decode-then-encode round trip through an
	// older or newer build doesn't silently drop them.
	unknown map[string]json.RawMessage `json:"-"`
}

// envelopeFields are this type's own JSON keys; every other top-level
// key found while unmarshaling is preserved in unknown instead.
var envelopeFields = map[string]struct{}{
	"message_id":     {},
	"correlation_id": {},
	"sender":         {},
	"recipient":      {},
	"kind":           {},
	"priority":       {},
	"payload":        {},
	"timestamp":      {},
	"ttl_ms":         {},
	"requires_ack":   {},
	"retry_policy":   {},
	"headers":        {},
	"properties":     {},
}

// envelopeAlias has Envelope's exported fields without its
// Marshal/UnmarshalJSON methods, so they can be driven directly by
// encoding/json without recursing.
type envelopeAlias Envelope

// UnmarshalJSON decodes the known fields normally, then stashes every
// top-level key envelopeFields doesn't recognize into e.unknown.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*envelopeAlias)(e)); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range envelopeFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		e.unknown = raw
	}
	return nil
}

// MarshalJSON encodes the known fields normally, then merges back in
// whatever unrecognized top-level fields UnmarshalJSON preserved.
func (e Envelope) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(envelopeAlias(e))
	if err != nil {
		return nil, err
	}
	if len(e.unknown) == 0 {
		return body, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.unknown {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Options configures NewRequest; zero values pick sensible defaults.
type Options struct {
	Priority    Priority
	TTLMs       int64
	RequiresAck bool
	RetryPolicy *RetryPolicy
}

// NewRequest constructs a request envelope with a freshly assigned id and
// timestamp. Payload is marshaled to JSON for transport regardless of the
// codec eventually used to put the envelope on the wire.
func NewRequest(sender, recipient string, payload interface{}, opts Options) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}
	if opts.Priority == 0 {
		opts.Priority = PriorityNormal
	}
	return &Envelope{
		MessageID:   uuid.New().String(),
		Sender:      sender,
		Recipient:   recipient,
		Kind:        KindRequest,
		Priority:    opts.Priority,
		Payload:     body,
		Timestamp:   time.Now(),
		TTLMs:       opts.TTLMs,
		RequiresAck: opts.RequiresAck,
		RetryPolicy: opts.RetryPolicy,
		Headers:     make(map[string]string),
		Properties:  make(map[string]interface{}),
	}, nil
}

// NewResponse constructs a response envelope inheriting the request's
// CorrelationID (its MessageID) and swapping sender/recipient.
func NewResponse(request *Envelope, sender string, payload interface{}) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}
	return &Envelope{
		MessageID:     uuid.New().String(),
		CorrelationID: request.MessageID,
		Sender:        sender,
		Recipient:     request.Sender,
		Kind:          KindResponse,
		Priority:      request.Priority,
		Payload:       body,
		Timestamp:     time.Now(),
		Headers:       make(map[string]string),
		Properties:    make(map[string]interface{}),
	}, nil
}

// NewAck builds the acknowledgement envelope a recipient owes the sender
// of a requires_ack message ("ack").
func NewAck(original *Envelope, sender string) *Envelope {
	return &Envelope{
		MessageID:     uuid.New().String(),
		CorrelationID: original.MessageID,
		Sender:        sender,
		Recipient:     original.Sender,
		Kind:          KindAck,
		Priority:      original.Priority,
		Payload:       json.RawMessage("null"),
		Timestamp:     time.Now(),
	}
}

// NewErrorEnvelope builds an error-kind response a handler returns when it
// cannot satisfy a request. retryable hints the retry layer.
func NewErrorEnvelope(request *Envelope, sender, reason string, retryable bool) (*Envelope, error) {
	payload := map[string]interface{}{
		"status":    "error",
		"reason":    reason,
		"retryable": retryable,
	}
	env, err := NewResponse(request, sender, payload)
	if err != nil {
		return nil, err
	}
	env.Kind = KindError
	return env, nil
}

// UnmarshalPayload decodes the envelope payload into v.
func (e *Envelope) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// SetHeader sets a string header, initializing the map lazily.
func (e *Envelope) SetHeader(key, value string) {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
}

// GetHeader retrieves a header and whether it was present.
func (e *Envelope) GetHeader(key string) (string, bool) {
	v, ok := e.Headers[key]
	return v, ok
}

// IsExpired reports whether the envelope has outlived its TTL.
// TTLMs <= 0 means no expiry.
func (e *Envelope) IsExpired() bool {
	if e.TTLMs <= 0 {
		return false
	}
	return time.Now().After(e.Timestamp.Add(time.Duration(e.TTLMs) * time.Millisecond))
}

// Clone returns a deep copy so recipients never observe a mutation another
// goroutine makes to the sender's copy.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	if e.Headers != nil {
		clone.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			clone.Headers[k] = v
		}
	}
	if e.Properties != nil {
		clone.Properties = make(map[string]interface{}, len(e.Properties))
		for k, v := range e.Properties {
			clone.Properties[k] = v
		}
	}
	if e.Payload != nil {
		clone.Payload = make(json.RawMessage, len(e.Payload))
		copy(clone.Payload, e.Payload)
	}
	if e.RetryPolicy != nil {
		rp := *e.RetryPolicy
		clone.RetryPolicy = &rp
	}
	if e.unknown != nil {
		clone.unknown = make(map[string]json.RawMessage, len(e.unknown))
		for k, v := range e.unknown {
			clone.unknown[k] = v
		}
	}
	return &clone
}

// Codec selects the wire encoding used by EncodeAs/DecodeAs.
type Codec string

const (
	CodecJSON    Codec = "json"
	CodecMsgpack Codec = "msgpack"
)

// Encode serializes the envelope using the default JSON codec.
func (e *Envelope) Encode() ([]byte, error) { return e.EncodeAs(CodecJSON) }

// EncodeAs serializes the envelope with the requested codec. Both codecs
// are self-describing: the byte form alone is sufficient to Decode.
func (e *Envelope) EncodeAs(codec Codec) ([]byte, error) {
	switch codec {
	case CodecMsgpack:
		return msgpack.Marshal(e)
	default:
		return json.Marshal(e)
	}
}

// Decode deserializes an envelope, auto-detecting JSON (starts with '{')
// versus msgpack (anything else — msgpack map headers never start with
// the ASCII byte '{').
func Decode(data []byte) (*Envelope, error) {
	if len(data) > 0 && data[0] == '{' {
		return DecodeAs(data, CodecJSON)
	}
	return DecodeAs(data, CodecMsgpack)
}

// DecodeAs deserializes an envelope using the named codec.
func DecodeAs(data []byte, codec Codec) (*Envelope, error) {
	var e Envelope
	var err error
	switch codec {
	case CodecMsgpack:
		err = msgpack.Unmarshal(data, &e)
	default:
		err = json.Unmarshal(data, &e)
	}
	if err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	return &e, nil
}

// ValidationError reports which required field failed ingress validation
//.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

// Validate rejects malformed envelopes at ingress: empty
// sender/recipient, zero message id, or a negative TTL.
func (e *Envelope) Validate() error {
	if e.MessageID == "" {
		return &ValidationError{Field: "message_id", Message: "required"}
	}
	if e.Sender == "" {
		return &ValidationError{Field: "sender", Message: "required"}
	}
	if e.Recipient == "" {
		return &ValidationError{Field: "recipient", Message: "required"}
	}
	if e.TTLMs < 0 {
		return &ValidationError{Field: "ttl_ms", Message: "must not be negative"}
	}
	return nil
}
