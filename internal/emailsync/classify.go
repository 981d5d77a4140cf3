package emailsync

import "strings"

// receiptKeywords flag receipt-flavored subjects, English and Hebrew.
var receiptKeywords = []string{
	"receipt",
	"invoice",
	"order confirmation",
	"payment confirmation",
	"purchase",
	"billing",
	"transaction",
	"payment received",
	"your order",
	"order summary",
	// Hebrew
	"קבלה",
	"חשבונית",
	"אישור הזמנה",
	"אישור תשלום",
	"סיכום הזמנה",
}

// receiptSenders are merchants and services whose mail is receipt-heavy.
var receiptSenders = []string{
	"amazon",
	"paypal",
	"stripe",
	"square",
	"shopify",
	"uber",
	"lyft",
	"doordash",
	"grubhub",
	"airbnb",
	"booking.com",
	"apple",
	"google",
	"microsoft",
	"dropbox",
	"spotify",
	"netflix",
	"wix",
	"gett",
	"wolt",
	"yango",
}

// IsLikelyReceipt classifies a message by subject, sender, and attachment
// presence. Generous OR matching: a false positive costs one wasted
// extraction call, a false negative loses a receipt.
func IsLikelyReceipt(subject, from string, hasAttachments bool) bool {
	subjectLower := strings.ToLower(subject)
	fromLower := strings.ToLower(from)

	subjectMatch := false
	for _, kw := range receiptKeywords {
		if strings.Contains(subjectLower, kw) {
			subjectMatch = true
			break
		}
	}

	senderMatch := false
	for _, s := range receiptSenders {
		if strings.Contains(fromLower, s) {
			senderMatch = true
			break
		}
	}

	if hasAttachments && (subjectMatch || senderMatch) {
		return true
	}
	return subjectMatch || senderMatch
}
