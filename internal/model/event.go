package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// WebhookEvent is a CRM change event as delivered to the webhook endpoint.
// Data and Meta are kept loose: only a handful of keys are read.
type WebhookEvent struct {
	Data     map[string]any `json:"data"`
	Meta     map[string]any `json:"meta"`
	Previous map[string]any `json:"previous,omitempty"`
}

// DecodeEvent decodes a webhook body. Numbers are kept as json.Number so
// large organization ids survive the round trip to the worker.
func DecodeEvent(body []byte) (*WebhookEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var ev WebhookEvent
	if err := dec.Decode(&ev); err != nil {
		return nil, eris.Wrap(err, "model: decode webhook event")
	}
	return &ev, nil
}

// OrganizationID returns data.id as an integer. Pipedrive sends it as a
// number; numeric strings are accepted too.
func (e *WebhookEvent) OrganizationID() (int64, error) {
	raw, ok := e.Data["id"]
	if !ok || raw == nil {
		return 0, eris.New("model: data.id is missing")
	}
	id, err := toInt64(raw)
	if err != nil {
		return 0, eris.Wrap(err, "model: data.id")
	}
	return id, nil
}

// Entity returns meta.entity (e.g. "organization").
func (e *WebhookEvent) Entity() string {
	s, _ := e.Meta["entity"].(string)
	return s
}

// Action returns meta.action (e.g. "create", "change").
func (e *WebhookEvent) Action() string {
	s, _ := e.Meta["action"].(string)
	return s
}

// CompanyName returns data.name, trimmed.
func (e *WebhookEvent) CompanyName() string {
	s, _ := e.Data["name"].(string)
	return strings.TrimSpace(s)
}

// Location returns the organization address. Pipedrive sends either a plain
// string or an address object depending on the webhook version.
func (e *WebhookEvent) Location() string {
	switch v := e.Data["address"].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		for _, k := range []string{"value", "formatted_address"} {
			if s, ok := v[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		if n != float64(int64(n)) {
			return 0, eris.Errorf("non-integer id %v", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, eris.Wrapf(err, "parse id %q", n)
		}
		return id, nil
	default:
		return 0, eris.Errorf("unsupported id type %T", v)
	}
}
