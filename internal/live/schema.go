package live

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/readerstream/internal/reader"
)

const envelopeSchema = `{
	"type": "object",
	"required": ["event", "data"],
	"properties": {
		"event": {"type": "string", "minLength": 1},
		"data": {"type": "object"}
	}
}`

const feedUpdateSchema = `{
	"type": "object",
	"required": ["feedID", "articleIDs"],
	"properties": {
		"feedID": {"type": "integer", "minimum": 1},
		"articleIDs": {
			"type": "array",
			"items": {"type": "integer", "minimum": 1}
		}
	}
}`

const stateChangeSchema = `{
	"type": "object",
	"required": ["state", "value"],
	"properties": {
		"state": {"type": "string", "minLength": 1},
		"value": {"type": "boolean"},
		"options": {
			"type": "object",
			"properties": {
				"ids": {"type": "array", "items": {"type": "integer"}},
				"feedIDs": {"type": "array", "items": {"type": "integer"}},
				"readOnly": {"type": "boolean"},
				"unreadOnly": {"type": "boolean"},
				"favoriteOnly": {"type": "boolean"},
				"untaggedOnly": {"type": "boolean"},
				"beforeID": {"type": "integer"},
				"afterID": {"type": "integer"},
				"beforeDate": {"type": "string"},
				"afterDate": {"type": "string"}
			}
		}
	}
}`

// validator checks push messages before they are decoded into typed events.
type validator struct {
	envelope    *jsonschema.Schema
	feedUpdate  *jsonschema.Schema
	stateChange *jsonschema.Schema
}

func newValidator() (*validator, error) {
	c := jsonschema.NewCompiler()
	compile := func(name, source string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
		if err != nil {
			return nil, fmt.Errorf("parse %s schema: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
		return c.Compile(name)
	}
	envelope, err := compile("envelope.json", envelopeSchema)
	if err != nil {
		return nil, err
	}
	feedUpdate, err := compile("feed-update.json", feedUpdateSchema)
	if err != nil {
		return nil, err
	}
	stateChange, err := compile("article-state-change.json", stateChangeSchema)
	if err != nil {
		return nil, err
	}
	return &validator{envelope: envelope, feedUpdate: feedUpdate, stateChange: stateChange}, nil
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// errUnknownEvent marks well-formed messages with an event name this client
// does not consume.
type errUnknownEvent string

func (e errUnknownEvent) Error() string {
	return fmt.Sprintf("unknown push event %q", string(e))
}

// decode validates a raw push message and returns a reader.FeedUpdate or a
// reader.StateChange.
func (v *validator) decode(raw []byte) (any, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode push message: %w", err)
	}
	if err := v.envelope.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid push envelope: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode push envelope: %w", err)
	}
	data, err := jsonschema.UnmarshalJSON(bytes.NewReader(env.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	switch env.Event {
	case reader.EventFeedUpdate:
		if err := v.feedUpdate.Validate(data); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Event, err)
		}
		var event reader.FeedUpdate
		if err := json.Unmarshal(env.Data, &event); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
		return event, nil
	case reader.EventArticleStateChange:
		if err := v.stateChange.Validate(data); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Event, err)
		}
		var event reader.StateChange
		if err := json.Unmarshal(env.Data, &event); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
		return event, nil
	default:
		return nil, errUnknownEvent(env.Event)
	}
}

// Encode builds the wire form of an event; used by servers and tests.
func Encode(event any) ([]byte, error) {
	var name string
	switch event.(type) {
	case reader.FeedUpdate, *reader.FeedUpdate:
		name = reader.EventFeedUpdate
	case reader.StateChange, *reader.StateChange:
		name = reader.EventArticleStateChange
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", event)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: name, Data: data})
}
