package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validEvent = `{"data":{"id":42,"name":"Acme Co","address":"Reykjavik"},"meta":{"entity":"organization","action":"create"},"previous":null}`

func TestValidateEvent_Valid(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		validEvent,
		`{"data":{"id":"42","name":"Acme Co"},"meta":{"entity":"organization","action":"change"},"previous":{"name":"Acme"}}`,
		`{"data":{"id":9007199254740993,"name":""},"meta":{"entity":"organization","action":"create"}}`,
	} {
		ev, err := ValidateEvent([]byte(body))
		require.NoError(t, err, body)
		id, err := ev.OrganizationID()
		require.NoError(t, err)
		assert.Positive(t, id)
	}
}

func TestValidateEvent_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "not_json", body: `{"data":`, want: "invalid JSON body"},
		{name: "empty", body: ``, want: "invalid JSON body"},
		{name: "array", body: `[]`, want: "invalid webhook event"},
		{name: "missing_data", body: `{"meta":{"entity":"organization","action":"create"}}`, want: "data"},
		{name: "missing_meta", body: `{"data":{"id":1,"name":"x"}}`, want: "meta"},
		{name: "missing_id", body: `{"data":{"name":"x"},"meta":{"entity":"organization","action":"create"}}`, want: "id"},
		{name: "missing_name", body: `{"data":{"id":1},"meta":{"entity":"organization","action":"create"}}`, want: "name"},
		{name: "fractional_id", body: `{"data":{"id":1.5,"name":"x"},"meta":{"entity":"organization","action":"create"}}`, want: "data.id"},
		{name: "word_id", body: `{"data":{"id":"abc","name":"x"},"meta":{"entity":"organization","action":"create"}}`, want: "data.id"},
		{name: "missing_action", body: `{"data":{"id":1,"name":"x"},"meta":{"entity":"organization"}}`, want: "action"},
		{name: "entity_not_string", body: `{"data":{"id":1,"name":"x"},"meta":{"entity":5,"action":"create"}}`, want: "meta.entity"},
		{name: "previous_string", body: `{"data":{"id":1,"name":"x"},"meta":{"entity":"o","action":"a"},"previous":"x"}`, want: "previous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ValidateEvent([]byte(tt.body))
			require.Error(t, err)
			var ce *ClientError
			require.True(t, errors.As(err, &ce), err.Error())
			assert.Contains(t, ce.Error(), tt.want)
		})
	}
}
