package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult_PlainJSON(t *testing.T) {
	res, err := parseResult(validModelJSON)
	require.NoError(t, err)
	require.NotNil(t, res.VendorName)
	assert.Equal(t, "Cafe Aroma", *res.VendorName)
	assert.Nil(t, res.VendorAddress)
	require.Len(t, res.LineItems, 1)
	assert.Equal(t, "cappuccino", res.LineItems[0].Description)
}

func TestParseResult_MarkdownFence(t *testing.T) {
	res, err := parseResult("```json\n" + validModelJSON + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "ILS", res.Currency)

	res, err = parseResult("```\n" + validModelJSON + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "ILS", res.Currency)
}

func TestParseResult_ThinkingBlockAndFence(t *testing.T) {
	wrapped := "<thinking>The totals look consistent, {not json}.</thinking>\n```json\n" +
		validModelJSON + "\n```"
	res, err := parseResult(wrapped)
	require.NoError(t, err)
	require.NotNil(t, res.TotalAmount)
	assert.InDelta(t, 42.50, *res.TotalAmount, 0.001)
}

func TestParseResult_SurroundingProse(t *testing.T) {
	res, err := parseResult("Here is the extracted data:\n" + validModelJSON + "\nLet me know if you need anything else.")
	require.NoError(t, err)
	require.NotNil(t, res.DocumentNumber)
	assert.Equal(t, "1234", *res.DocumentNumber)
}

func TestParseResult_BracesInsideStrings(t *testing.T) {
	in := `{"vendorName": "Shop {special} Ltd", "rawOcrText": "a \" quote and } brace", "currency": "EUR", "documentType": "receipt", "confidenceScore": 0.7}`
	res, err := parseResult("noise before " + in + " noise after")
	require.NoError(t, err)
	assert.Equal(t, "Shop {special} Ltd", *res.VendorName)
	assert.Equal(t, `a " quote and } brace`, res.RawOCRText)
}

func TestParseResult_DefaultsCurrencyAndLineItems(t *testing.T) {
	res, err := parseResult(`{"vendorName": "X", "documentType": "other", "confidenceScore": 0.1}`)
	require.NoError(t, err)
	assert.Equal(t, "USD", res.Currency)
	assert.NotNil(t, res.LineItems)
	assert.Empty(t, res.LineItems)
}

func TestParseResult_NoJSON(t *testing.T) {
	for _, in := range []string{
		"",
		"I cannot read this document.",
		"<thinking>hmm</thinking>",
		"{ \"unterminated\": ",
	} {
		_, err := parseResult(in)
		require.ErrorIs(t, err, ErrMalformedOutput, in)
	}
}

func TestStripThinking(t *testing.T) {
	assert.Equal(t, "before after", stripThinking("before <thinking>x</thinking>after"))
	assert.Equal(t, "keep ", stripThinking("keep <thinking>unclosed"))
	assert.Equal(t, "plain", stripThinking("plain"))
	assert.Equal(t, "ab", stripThinking("a<thinking>1</thinking><thinking>2</thinking>b"))
}

func TestFirstJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, firstJSONObject(`x {"a":1} {"b":2}`))
	assert.Equal(t, `{"a":{"b":2}}`, firstJSONObject(`{"a":{"b":2}} trailing`))
	assert.Empty(t, firstJSONObject("no braces here"))
	assert.Empty(t, firstJSONObject(`{"never closed": {`))
}
