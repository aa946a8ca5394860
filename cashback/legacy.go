/*
legacy.go - Name-based category matching for untagged legacy data

Imported rows predate category tags and rule category IDs. For those rows
only, two fallbacks exist:

  1. legacyNameHasMarker: a category named "Hoàn tiền (refund)" is treated
     as tagged "refund".
  2. legacyRuleMatches: a rule listing "Dining" in LegacyCategoryNames
     matches a transaction whose category is named "dining".

Neither is consulted when explicit tags or IDs are present. New data must
never rely on them.
*/
package cashback

import (
	"strings"
)

var legacyMarkers = map[CategoryTag][]string{
	TagRefund:    {"refund", "hoàn tiền"},
	TagRepayment: {"repayment", "trả nợ"},
	TagCashback:  {"cashback", "hoàn lại"},
	TagTransfer:  {"transfer", "chuyển khoản"},
}

func legacyNameHasMarker(name string, tag CategoryTag) bool {
	lower := strings.ToLower(name)
	for _, marker := range legacyMarkers[tag] {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func legacyRuleMatches(rule Rule, categoryName string) bool {
	name := strings.TrimSpace(categoryName)
	if name == "" {
		return false
	}
	for _, legacy := range rule.LegacyCategoryNames {
		if strings.EqualFold(strings.TrimSpace(legacy), name) {
			return true
		}
	}
	return false
}
