package extraction

import "fmt"

const systemPrompt = "You are an expert document data extractor. Output only valid JSON."

const extractionPrompt = `Analyze this receipt/invoice and extract the following structured data.

Return ONLY valid JSON with this exact structure (no markdown, no explanation):
{
  "vendorName": "string or null",
  "vendorAddress": "string or null",
  "documentDate": "YYYY-MM-DD or null",
  "documentType": "receipt|invoice|bill|purchase_order|credit_note|other",
  "documentNumber": "string or null",
  "totalAmount": number or null,
  "totalTax": number or null,
  "currency": "USD|EUR|ILS|GBP|etc",
  "lineItems": [
    {
      "description": "string",
      "quantity": number,
      "unitPrice": number,
      "total": number,
      "tax": number
    }
  ],
  "rawOcrText": "full text content of the document",
  "confidenceScore": 0.0 to 1.0
}

Rules:
- Extract ALL line items if visible
- Use ISO currency codes
- Dates in YYYY-MM-DD format
- If a field is not visible, use null
- The total amount is the number next to an explicit "total" keyword (or its local-language equivalent), NOT simply the largest number on the document; OCR artifacts can inflate digits
- If the document shows a local currency symbol or word (for example ₪, ש"ח or אגורות for ILS), use that currency
- Line item totals should approximately sum to the stated total; use this to sanity-check your reading
- Confidence score reflects how certain you are about the extraction accuracy
- For Hebrew documents, keep vendor names in their original Hebrew
- Always include rawOcrText with the full text content`

// visionUserPrompt pairs the image with OCR text as secondary context. The
// image wins on conflicts; Hebrew OCR in particular is noisy.
func visionUserPrompt(ocrText string) string {
	if ocrText == "" {
		return extractionPrompt
	}
	return fmt.Sprintf(`%s

OCR text extracted from this document (may contain errors, trust the image over this text):
---
%s
---`, extractionPrompt, ocrText)
}

func textUserPrompt(ocrText string) string {
	return fmt.Sprintf(`%s

Text content of the document:
---
%s
---`, extractionPrompt, ocrText)
}
