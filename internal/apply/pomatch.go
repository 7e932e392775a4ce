package apply

import (
	"fmt"
	"math"
	"time"

	"github.com/sells-group/invoice-memory/internal/confidence"
	"github.com/sells-group/invoice-memory/internal/model"
)

// POMatch is the best purchase order found for an invoice.
type POMatch struct {
	Order      model.PurchaseOrder `json:"order"`
	Confidence float64             `json:"confidence"`
	Reasons    []string            `json:"reasons"`
}

// poDateWindowDays is how far apart an order and invoice may be dated
// before the date signal contributes nothing.
const poDateWindowDays = 30.0

// MatchPurchaseOrder scores the supplied orders against the invoice and
// returns the best match, or nil when no order shares the vendor.
// Scoring: 0.3 for the vendor alone, up to 0.2 decaying linearly over
// the 30-day date window, up to 0.3 for code overlap (denominator is
// the larger code set), and 0.1 per line with an exact code and
// quantity match. The score is capped at 1.0; the first order to reach
// the maximum wins ties.
func MatchPurchaseOrder(vendorKey string, invoiceDate time.Time, items []model.LineItem, orders []model.PurchaseOrder) *POMatch {
	var best *POMatch
	for i := range orders {
		po := orders[i]
		if confidence.NormalizeVendorKey(po.VendorName) != vendorKey {
			continue
		}

		score := 0.3
		reasons := []string{"vendor match"}

		if days := math.Abs(invoiceDate.Sub(po.OrderDate).Hours() / 24); days <= poDateWindowDays {
			score += 0.2 * (1 - days/poDateWindowDays)
			reasons = append(reasons, fmt.Sprintf("order dated %.0f days from invoice", days))
		}

		invCodes := distinctCodes(items)
		poCodes := distinctCodes(po.LineItems)
		if denom := max(len(invCodes), len(poCodes)); denom > 0 {
			matched := 0
			for c := range invCodes {
				if poCodes[c] {
					matched++
				}
			}
			if matched > 0 {
				score += 0.3 * float64(matched) / float64(denom)
				reasons = append(reasons, fmt.Sprintf("%d/%d item codes match", matched, denom))
			}
		}

		for _, it := range items {
			for _, pl := range po.LineItems {
				if it.Code != "" && it.Code == pl.Code && it.Quantity == pl.Quantity {
					score += 0.1
					reasons = append(reasons, fmt.Sprintf("line %s quantity matches exactly", it.Code))
					break
				}
			}
		}

		if score > 1.0 {
			score = 1.0
		}
		if best == nil || score > best.Confidence {
			best = &POMatch{Order: po, Confidence: score, Reasons: reasons}
		}
	}
	return best
}

func distinctCodes(items []model.LineItem) map[string]bool {
	codes := make(map[string]bool, len(items))
	for _, it := range items {
		if it.Code != "" {
			codes[it.Code] = true
		}
	}
	return codes
}
