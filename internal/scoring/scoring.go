// Package scoring derives a merchant's credit score, risk level and credit
// limit from its transaction history. Every function is pure: the same
// account snapshot always produces the same result.
package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/merchant-credit/internal/models"
)

const (
	// RecommendationScoreThreshold is the score below which volume and
	// completion advice is given.
	RecommendationScoreThreshold = 600
	// EnableScoreThreshold is the minimum score for the overdraft facility.
	EnableScoreThreshold = 500
)

var (
	thousand = decimal.NewFromInt(1000)

	scoreSuccessWeight = decimal.NewFromInt(200)
	maxVolumeScore     = decimal.NewFromInt(400)
	maxConsistency     = decimal.NewFromInt(300)
	consistencyPerTxn  = decimal.NewFromInt(10)

	baseLimit        = decimal.NewFromInt(100)
	maxVolumeFactor  = decimal.NewFromInt(5)
	MaxCreditLimit   = decimal.NewFromInt(10000)
	lowRiskRate      = decimal.RequireFromString("0.95")
	mediumRiskRate   = decimal.RequireFromString("0.85")
	lowVolumeCeiling = decimal.NewFromInt(1000)
)

// Result holds the three derived values, always computed together.
type Result struct {
	CreditScore int
	RiskLevel   models.RiskLevel
	CreditLimit decimal.Decimal
}

// Evaluate derives score, then risk level, then limit, each step using the
// score produced by the step before it.
func Evaluate(a *models.CreditAccount) Result {
	score := CreditScore(a)
	return Result{
		CreditScore: score,
		RiskLevel:   riskLevelFor(score, successRate(a.PaymentHistory)),
		CreditLimit: creditLimitFor(a.TotalVolume, score),
	}
}

// CreditScore computes the score in [0, 1000] from payment history and volume.
func CreditScore(a *models.CreditAccount) int {
	total := len(a.PaymentHistory)
	if total == 0 {
		return models.BaselineCreditScore
	}
	completed := decimal.NewFromInt(int64(completedCount(a.PaymentHistory)))

	volumeScore := decimal.Min(a.TotalVolume.Div(thousand), maxVolumeScore)
	consistencyScore := decimal.Min(completed.Mul(consistencyPerTxn), maxConsistency)

	raw := decimal.NewFromInt(models.BaselineCreditScore).
		Add(successRate(a.PaymentHistory).Mul(scoreSuccessWeight)).
		Add(volumeScore).
		Add(consistencyScore).
		Round(0)

	return clampScore(raw.IntPart())
}

// AssessRiskLevel classifies the account using its stored score. The most
// favourable tier is checked first.
func AssessRiskLevel(a *models.CreditAccount) models.RiskLevel {
	return riskLevelFor(a.CreditScore, successRate(a.PaymentHistory))
}

// CreditLimit computes the borrowing limit from volume and the stored score.
func CreditLimit(a *models.CreditAccount) decimal.Decimal {
	return creditLimitFor(a.TotalVolume, a.CreditScore)
}

// SuccessRate is the share of completed payments, 0 when there is no history.
func SuccessRate(a *models.CreditAccount) float64 {
	rate, _ := successRate(a.PaymentHistory).Float64()
	return rate
}

// RiskCap is the largest single overdraft request allowed for a risk level.
// The boolean is false when the level has no cap beyond available credit.
func RiskCap(level models.RiskLevel) (decimal.Decimal, bool) {
	switch level {
	case models.RiskLow:
		return decimal.Zero, false
	case models.RiskMedium:
		return decimal.NewFromInt(200), true
	default:
		return decimal.NewFromInt(50), true
	}
}

// Assess builds a fresh assessment for the account without modifying it.
func Assess(a *models.CreditAccount) models.CreditAssessment {
	r := Evaluate(a)
	available := decimal.Max(decimal.Zero, r.CreditLimit.Sub(a.CurrentCredit))

	return models.CreditAssessment{
		AccountID:          a.ID,
		CreditScore:        r.CreditScore,
		RiskLevel:          r.RiskLevel,
		CreditLimit:        r.CreditLimit,
		AvailableCredit:    available,
		CurrentCredit:      a.CurrentCredit,
		TotalVolume:        a.TotalVolume,
		MonthlyVolume:      a.MonthlyVolume,
		PaymentSuccessRate: SuccessRate(a),
		OverdraftEnabled:   a.OverdraftEnabled,
		Recommendations:    recommendations(a, r),
	}
}

func recommendations(a *models.CreditAccount, r Result) []string {
	recs := []string{}
	if r.CreditScore < RecommendationScoreThreshold {
		recs = append(recs,
			"Increase your transaction volume to improve your credit score",
			"Ensure transactions are completed on time",
		)
	}
	if r.RiskLevel == models.RiskHigh {
		recs = append(recs,
			"Maintain a consistent payment history",
			"Provide business verification documents",
		)
	}
	if a.TotalVolume.LessThan(lowVolumeCeiling) {
		recs = append(recs, "Process more transactions to unlock a higher credit limit")
	}
	if !a.Verified {
		recs = append(recs, "Complete business verification")
	}
	return recs
}

func riskLevelFor(score int, rate decimal.Decimal) models.RiskLevel {
	switch {
	case score >= 700 && rate.GreaterThanOrEqual(lowRiskRate):
		return models.RiskLow
	case score >= EnableScoreThreshold && rate.GreaterThanOrEqual(mediumRiskRate):
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

func creditLimitFor(totalVolume decimal.Decimal, score int) decimal.Decimal {
	volumeMultiplier := decimal.Min(totalVolume.Div(thousand), maxVolumeFactor)
	scoreMultiplier := decimal.NewFromInt(int64(score)).Div(thousand)

	limit := baseLimit.
		Mul(decimal.NewFromInt(1).Add(volumeMultiplier)).
		Mul(decimal.NewFromInt(1).Add(scoreMultiplier))

	return decimal.Min(limit, MaxCreditLimit).Round(2)
}

func successRate(history []models.PaymentEvent) decimal.Decimal {
	if len(history) == 0 {
		return decimal.Zero
	}
	completed := decimal.NewFromInt(int64(completedCount(history)))
	return completed.Div(decimal.NewFromInt(int64(len(history))))
}

func completedCount(history []models.PaymentEvent) int {
	n := 0
	for _, p := range history {
		if p.Status == models.StatusCompleted {
			n++
		}
	}
	return n
}

func clampScore(raw int64) int {
	if raw < 0 {
		return 0
	}
	if raw > models.MaxCreditScore {
		return models.MaxCreditScore
	}
	return int(raw)
}
