package mapping

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtractionJSON_Valid(t *testing.T) {
	obj, err := ParseExtractionJSON(`{"certificate_number": "GSR-1", "outcome": "PASS"}`)
	require.NoError(t, err)
	assert.Equal(t, "GSR-1", obj["certificate_number"])
}

func TestParseExtractionJSON_MarkdownFenced(t *testing.T) {
	text := "Here is the extracted data:\n```json\n{\"certificate_number\": \"EICR-9\"}\n```\nLet me know if you need anything else."
	obj, err := ParseExtractionJSON(text)
	require.NoError(t, err)
	assert.Equal(t, "EICR-9", obj["certificate_number"])
}

func TestParseExtractionJSON_Malformed(t *testing.T) {
	for _, text := range []string{
		"",
		"I could not read this document.",
		"{truncated",
		`[1, 2, 3]`,
		`{"appliances": "not-an-array-and-schema-rejects-it"}`,
	} {
		_, err := ParseExtractionJSON(text)
		assert.True(t, errors.Is(err, ErrMalformedResponse), "input %q should be malformed, got %v", text, err)
	}
}

func TestParseExtractionJSON_UnknownFieldsAllowed(t *testing.T) {
	obj, err := ParseExtractionJSON(`{"certificate_number": "X", "gas_tightness_test": "pass"}`)
	require.NoError(t, err)
	assert.Equal(t, "pass", obj["gas_tightness_test"])
}

func TestCleanJSON(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```":  `{"a":1}`,
		"```\n{\"a\":1}\n```":      `{"a":1}`,
		`prose before {"a":1} after`: `{"a":1}`,
		`{"a":1}`:                  `{"a":1}`,
		"no json here":             "no json here",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanJSON(in), in)
	}
}
