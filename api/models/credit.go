package models

import "time"

type CreditAccount struct {
	UserID           string
	PlanID           string
	CreditsRemaining int
	MonthlyCredits   int
	CreditsUsed      int
	RenewsAt         time.Time
	UpdatedAt        time.Time
}

// UsagePercentage reports how much of the monthly allotment is spent.
func (a *CreditAccount) UsagePercentage() float64 {
	if a.MonthlyCredits == 0 {
		return 0
	}
	used := a.MonthlyCredits - a.CreditsRemaining
	return float64(used) / float64(a.MonthlyCredits) * 100
}

// Plan carries the only piece of catalog data the ledger needs: the
// monthly credit allotment. Price and feature text live with the
// billing collaborator.
type Plan struct {
	ID             string
	Name           string
	MonthlyCredits int
}

var plans = map[string]Plan{
	"starter":  {ID: "starter", Name: "Starter", MonthlyCredits: 2000},
	"pro":      {ID: "pro", Name: "Pro", MonthlyCredits: 12000},
	"ultimate": {ID: "ultimate", Name: "Ultimate", MonthlyCredits: 30000},
}

func PlanByID(id string) (Plan, bool) {
	p, ok := plans[id]
	return p, ok
}
