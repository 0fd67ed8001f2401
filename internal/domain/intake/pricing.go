package intake

import (
	"fmt"
	"math"

	"github.com/telecare/intake/internal/platform/backend"
)

// Cents is a money amount in US cents. Backend amounts are decimal dollars
// and are converted at the edge.
type Cents int64

func ToCents(dollars float64) Cents { return Cents(math.Round(dollars * 100)) }

func (c Cents) Dollars() float64 { return float64(c) / 100 }

func (c Cents) String() string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s$%d.%02d", sign, c/100, c%100)
}

// ProgramQuote is the dynamic price of a program checkout.
type ProgramQuote struct {
	ProductIDs    []string `json:"productIds"`
	ProductsTotal Cents    `json:"productsTotal"`
	NonMedicalFee Cents    `json:"nonMedicalServicesFee"`
	VisitFee      Cents    `json:"visitFee"`
	Total         Cents    `json:"total"`
}

// QuoteProgram prices the selected products of a program. The non-medical
// services fee is the single program fee, or the sum of the selected
// products' fees when the program prices per product.
func QuoteProgram(p *backend.Program, selected []string, visitFee float64) (ProgramQuote, error) {
	byID := make(map[string]backend.ProgramProduct, len(p.Products))
	for _, prod := range p.Products {
		byID[prod.ID] = prod
	}

	q := ProgramQuote{ProductIDs: selected, VisitFee: ToCents(visitFee)}
	for _, id := range selected {
		prod, ok := byID[id]
		if !ok {
			return ProgramQuote{}, fmt.Errorf("product %s is not part of program %s", id, p.ID)
		}
		q.ProductsTotal += ToCents(prod.DisplayPrice)
		if p.PerProductPricing {
			q.NonMedicalFee += ToCents(prod.NonMedicalServicesFee)
		}
	}
	if !p.PerProductPricing {
		q.NonMedicalFee = ToCents(p.NonMedicalServicesFee)
	}
	q.Total = q.ProductsTotal + q.NonMedicalFee + q.VisitFee
	return q, nil
}
