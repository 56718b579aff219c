package dispatch

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sells-group/org-enricher/internal/model"
)

//go:embed event.schema.json
var eventSchemaJSON string

var eventSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(eventSchemaJSON))
})

// ClientError is a malformed webhook body. No worker is started for it.
type ClientError struct {
	Message string
	Fields  []string
}

func (e *ClientError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Fields, "; ")
}

// ValidateEvent checks the body's structure and decodes it. Only shape is
// checked; whether the organization exists is the worker's problem.
func ValidateEvent(body []byte) (*model.WebhookEvent, error) {
	schema, err := eventSchema()
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: load event schema")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, &ClientError{Message: "invalid JSON body"}
	}
	if !result.Valid() {
		ce := &ClientError{Message: "invalid webhook event"}
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "" {
				field = "(root)"
			}
			ce.Fields = append(ce.Fields, fmt.Sprintf("%s: %s", field, desc.Description()))
		}
		return nil, ce
	}

	ev, err := model.DecodeEvent(body)
	if err != nil {
		return nil, &ClientError{Message: "invalid JSON body"}
	}
	return ev, nil
}
