package listings

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MortgageEstimate is a fixed-rate amortization summary. Amounts are strings
// with two decimals.
type MortgageEstimate struct {
	Price          string `json:"price"`
	DownPayment    string `json:"downPayment"`
	LoanAmount     string `json:"loanAmount"`
	MonthlyPayment string `json:"monthlyPayment"`
	TotalInterest  string `json:"totalInterest"`
	Years          int    `json:"years"`
	RatePct        string `json:"ratePct"`
}

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// EstimateMortgage computes the monthly principal and interest payment:
// M = L * r / (1 - (1+r)^-n), with r the monthly rate and n the number of
// payments. A zero rate spreads the loan evenly.
func EstimateMortgage(price, downPct, ratePct float64, years int) (*MortgageEstimate, error) {
	switch {
	case price <= 0:
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidSearch)
	case downPct < 0 || downPct >= 100:
		return nil, fmt.Errorf("%w: down payment must be between 0 and 100 percent", ErrInvalidSearch)
	case ratePct < 0 || ratePct > 30:
		return nil, fmt.Errorf("%w: rate must be between 0 and 30 percent", ErrInvalidSearch)
	case years < 1 || years > 40:
		return nil, fmt.Errorf("%w: term must be between 1 and 40 years", ErrInvalidSearch)
	}

	p := decimal.NewFromFloat(price)
	down := p.Mul(decimal.NewFromFloat(downPct)).Div(hundred)
	loan := p.Sub(down)
	n := decimal.NewFromInt(int64(years * 12))

	var monthly decimal.Decimal
	r := decimal.NewFromFloat(ratePct).Div(hundred).Div(twelve)
	if r.IsZero() {
		monthly = loan.Div(n)
	} else {
		growth := decimal.NewFromInt(1).Add(r).Pow(n)
		monthly = loan.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1)))
	}
	monthly = monthly.Round(2)
	interest := monthly.Mul(n).Sub(loan)
	if interest.IsNegative() {
		interest = decimal.Zero
	}

	return &MortgageEstimate{
		Price:          p.StringFixed(2),
		DownPayment:    down.StringFixed(2),
		LoanAmount:     loan.StringFixed(2),
		MonthlyPayment: monthly.StringFixed(2),
		TotalInterest:  interest.StringFixed(2),
		Years:          years,
		RatePct:        decimal.NewFromFloat(ratePct).String(),
	}, nil
}
