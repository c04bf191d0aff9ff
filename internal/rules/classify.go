package rules

import (
	"strings"

	"github.com/ignite/mailbox-monitor/internal/domain"
)

// DocumentType is the coarse classification of a supplier message.
type DocumentType = domain.DocumentType

// documentTokens maps subject/body fragments to document types, scanned in
// order. First hit wins.
var documentTokens = []struct {
	token string
	typ   domain.DocumentType
}{
	{"invoice", domain.DocInvoice},
	{"rechnung", domain.DocInvoice},
	{"tracking", domain.DocTracking},
	{"shipment", domain.DocTracking},
	{"sendungsverfolgung", domain.DocTracking},
	{"delivery note", domain.DocDeliveryNote},
	{"lieferschein", domain.DocDeliveryNote},
	{"delivered", domain.DocTracking},
	{"out for delivery", domain.DocTracking},
}

// DetectDocumentType classifies a message's document type from its subject
// and body preview. Unrecognized content classifies as OTHER.
func DetectDocumentType(subject, bodyPreview string) domain.DocumentType {
	haystack := strings.ToLower(subject + " " + bodyPreview)
	for _, dt := range documentTokens {
		if strings.Contains(haystack, dt.token) {
			return dt.typ
		}
	}
	return domain.DocOther
}
