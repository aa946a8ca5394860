package cashback

import (
	"github.com/warp/cashback-engine/generic"
)

// =============================================================================
// CLASSIFIER - Resolves category semantics once, by ID and tag
// =============================================================================

// Classifier answers category questions the ledger needs (is this a refund?
// what is its display name?) from explicit tags. Rows whose categories were
// never tagged fall back to the legacy name match in legacy.go.
type Classifier struct {
	byID map[string]Category
}

// NewClassifier indexes categories by ID.
func NewClassifier(categories []Category) *Classifier {
	c := &Classifier{byID: make(map[string]Category, len(categories))}
	for _, cat := range categories {
		c.byID[cat.ID] = cat
	}
	return c
}

// Lookup returns the category with the given ID.
func (c *Classifier) Lookup(id string) (Category, bool) {
	if c == nil || id == "" {
		return Category{}, false
	}
	cat, ok := c.byID[id]
	return cat, ok
}

// Name returns the category's name, or "" when unknown.
func (c *Classifier) Name(id string) string {
	cat, _ := c.Lookup(id)
	return cat.Name
}

// Has reports whether the category carries tag. Untagged categories are
// checked against the legacy name markers.
func (c *Classifier) Has(categoryID string, tag CategoryTag) bool {
	cat, ok := c.Lookup(categoryID)
	if !ok {
		return false
	}
	if len(cat.Tags) > 0 {
		return cat.HasTag(tag)
	}
	return legacyNameHasMarker(cat.Name, tag)
}

// IsRefund reports whether the category books money coming back to the card.
func (c *Classifier) IsRefund(categoryID string) bool {
	return c.Has(categoryID, TagRefund)
}

// IsSpend reports whether tx counts toward cycle spend: a non-void expense
// whose category is not a refund, repayment, cashback payout or transfer.
func (c *Classifier) IsSpend(tx generic.Transaction) bool {
	if tx.Void || tx.Kind != generic.KindExpense {
		return false
	}
	if tx.CategoryID == "" {
		return true
	}
	for _, tag := range []CategoryTag{TagRefund, TagRepayment, TagCashback, TagTransfer} {
		if c.Has(tx.CategoryID, tag) {
			return false
		}
	}
	return true
}
