package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeys(t *testing.T) {
	got, err := Marshal(map[string]any{
		"status":     "CONFIRMED",
		"amount":     "100",
		"payment_id": "p-1",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"amount":"100","payment_id":"p-1","status":"CONFIRMED"}`, string(got))
}

func TestMarshal_Nested(t *testing.T) {
	got, err := Marshal(map[string]any{
		"b": []any{int64(1), true, "x"},
		"a": map[string]string{"z": "1", "y": "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":"2","z":"1"},"b":[1,true,"x"]}`, string(got))
}

func TestMarshal_StringEscaping(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"html not escaped", "<a&b>", `"<a&b>"`},
		{"quote and backslash", `say "hi" \o/`, `"say \"hi\" \\o/"`},
		{"newline", "a\nb", `"a\nb"`},
		{"control", "\x01", `"\u0001"`},
		{"line separator literal", "\u2028", "\"\u2028\""},
		{"nfc", "e\u0301", "\"\u00e9\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_Forbidden(t *testing.T) {
	_, err := Marshal(map[string]any{"amount": 1.5})
	assert.ErrorContains(t, err, "floats are forbidden")

	_, err = Marshal(map[string]any{"x": nil})
	assert.ErrorContains(t, err, "null is forbidden")

	_, err = Marshal(struct{}{})
	assert.ErrorContains(t, err, "unsupported type")
}

func TestSortedKeys_UTF16Order(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D.. which sort before U+FF61
	// in UTF-16 but after it in UTF-8.
	keys := SortedKeys(map[string]any{"\uff61": 1, "\U0001F600": 2})
	assert.Equal(t, []string{"\U0001F600", "\uff61"}, keys)
}

func TestID_Deterministic(t *testing.T) {
	a, err := ID(DomainEvent, map[string]any{"x": "1", "y": "2"})
	require.NoError(t, err)
	b, err := ID(DomainEvent, map[string]any{"y": "2", "x": "1"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := ID(DomainEvidence, map[string]any{"x": "1", "y": "2"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "domain separation")
}
