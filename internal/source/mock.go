package source

import "math/rand"

// mockReport generates synthetic usage data in the shape ccusage emits,
// for demos and environments without the CLI installed.
func mockReport() Report {
	daily := PeriodUsage{
		Cost:   10 + rand.Float64()*40,
		Tokens: float64(20_000 + rand.Intn(80_000)),
	}
	weekly := PeriodUsage{
		Cost:   50 + rand.Float64()*150,
		Tokens: float64(100_000 + rand.Intn(400_000)),
	}
	monthly := PeriodUsage{
		Cost:   200 + rand.Float64()*800,
		Tokens: float64(500_000 + rand.Intn(1_500_000)),
	}
	return Report{
		TotalCost:   40.5 + rand.Float64()*7,
		TotalTokens: float64(120_000 + rand.Intn(15_000)),
		Daily:       daily,
		Weekly:      weekly,
		Monthly:     monthly,
	}
}
