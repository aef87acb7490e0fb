package services

import (
	"fmt"
	"sort"

	"github.com/creditforge/backend/internal/config"
	"github.com/creditforge/backend/internal/models"
)

// Quote is the priced form of a generation request.
type Quote struct {
	Category models.Category `json:"category"`
	Quantity int             `json:"quantity"`
	UnitCost int64           `json:"unitCost"`
	Units    []int64         `json:"units"`
	Total    int64           `json:"total"`
}

// PriceTable prices a batch of one category. Each unit is charged at the
// percentage of the tier its 1-based position falls in, floored per unit.
type PriceTable struct {
	unitCosts   map[models.Category]int64
	tiers       []config.DiscountTier
	maxQuantity int
}

func NewPriceTable(cfg config.CreditsConfig) *PriceTable {
	costs := make(map[models.Category]int64, len(cfg.UnitCosts))
	for name, cost := range cfg.UnitCosts {
		costs[models.Category(name)] = cost
	}

	tiers := append([]config.DiscountTier(nil), cfg.Tiers...)
	if len(tiers) == 0 {
		tiers = []config.DiscountTier{{FromUnit: 1, Percent: 100}}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].FromUnit < tiers[j].FromUnit })

	maxQuantity := cfg.MaxQuantity
	if maxQuantity <= 0 {
		maxQuantity = 20
	}

	return &PriceTable{unitCosts: costs, tiers: tiers, maxQuantity: maxQuantity}
}

func (p *PriceTable) MaxQuantity() int {
	return p.maxQuantity
}

// Quote rejects unknown categories, out of range quantities and any batch
// that would cost nothing.
func (p *PriceTable) Quote(category models.Category, quantity int) (Quote, error) {
	if !category.Valid() {
		return Quote{}, invalidField("category", fmt.Sprintf("unknown category %q", category))
	}
	if quantity < 1 {
		return Quote{}, invalidField("quantity", "must be at least 1")
	}
	if quantity > p.maxQuantity {
		return Quote{}, invalidField("quantity", fmt.Sprintf("must be at most %d", p.maxQuantity))
	}

	unitCost, ok := p.unitCosts[category]
	if !ok || unitCost < 0 {
		return Quote{}, invalidField("category", fmt.Sprintf("no price for %q", category))
	}

	q := Quote{
		Category: category,
		Quantity: quantity,
		UnitCost: unitCost,
		Units:    make([]int64, quantity),
	}
	for i := 0; i < quantity; i++ {
		q.Units[i] = unitCost * p.percentFor(i+1) / 100
		q.Total += q.Units[i]
	}

	if q.Total < 1 {
		return Quote{}, invalidField("category", fmt.Sprintf("%q is priced at zero credits", category))
	}
	return q, nil
}

func (p *PriceTable) percentFor(position int) int64 {
	percent := int64(100)
	for _, tier := range p.tiers {
		if position < tier.FromUnit {
			break
		}
		percent = tier.Percent
	}
	return percent
}
