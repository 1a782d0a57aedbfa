package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_CreateNode(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	t.Run("accepts a complete body", func(t *testing.T) {
		body := []byte(`{"provider":"vultr","region":"ewr","priority":1,"enabled":true,"endpoint":"http://10.0.0.1:9000/health"}`)
		assert.NoError(t, v.ValidateBody(SchemaCreateNode, body))
	})

	t.Run("rejects a missing endpoint", func(t *testing.T) {
		err := v.ValidateBody(SchemaCreateNode, []byte(`{"provider":"vultr"}`))
		require.Error(t, err)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, SchemaCreateNode, verr.Schema)
		assert.NotEmpty(t, verr.Problems)
	})

	t.Run("rejects uppercase provider names", func(t *testing.T) {
		body := []byte(`{"provider":"Vultr","endpoint":"http://10.0.0.1/health"}`)
		assert.Error(t, v.ValidateBody(SchemaCreateNode, body))
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		body := []byte(`{"provider":"vultr","endpoint":"http://10.0.0.1/health","is_primary":true}`)
		assert.Error(t, v.ValidateBody(SchemaCreateNode, body))
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		assert.Error(t, v.ValidateBody(SchemaCreateNode, []byte(`{"provider":`)))
	})
}

func TestValidator_SetEnabled(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateBody(SchemaSetEnabled, []byte(`{"enabled":false}`)))
	assert.Error(t, v.ValidateBody(SchemaSetEnabled, []byte(`{}`)))
	assert.Error(t, v.ValidateBody(SchemaSetEnabled, []byte(`{"enabled":"yes"}`)))
}

func TestValidator_ManualFailover(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateBody(SchemaManualFailover, []byte(`{"to_provider":"oracle"}`)))
	assert.Error(t, v.ValidateBody(SchemaManualFailover, []byte(`{"to_provider":""}`)))
	assert.Error(t, v.ValidateBody(SchemaManualFailover, []byte(`{"provider":"oracle"}`)))
}

func TestValidator_UnknownSchema(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	assert.Error(t, v.ValidateBody("no_such_schema", []byte(`{}`)))
}
