package services

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/irfndi/sentio-go/internal/models"
)

const (
	minTradesForKelly       = 20
	minTradesForVaR         = 30
	minPointsForCorrelation = 20
	neutralCorrelation      = 0.5
	tradingDaysPerYear      = 252
)

// CalculateRiskRewardRatio is reward distance over risk distance from entry.
// A zero risk distance yields 0.
func CalculateRiskRewardRatio(entry, stopLoss, takeProfit float64, direction models.Direction) float64 {
	var risk, reward float64
	if direction == models.DirectionShort {
		risk = stopLoss - entry
		reward = entry - takeProfit
	} else {
		risk = entry - stopLoss
		reward = takeProfit - entry
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}

// CalculateKellyCriterion returns the half-Kelly fraction clamped to
// [0, maxFraction]. Non-positive payoffs yield 0.
func CalculateKellyCriterion(winRate, avgWin, avgLoss, maxFraction float64) float64 {
	if avgWin <= 0 || avgLoss <= 0 || winRate <= 0 {
		return 0
	}
	b := avgWin / avgLoss
	kelly := (winRate*b - (1 - winRate)) / b
	half := kelly / 2
	return math.Max(0, math.Min(maxFraction, half))
}

// zScore maps a VaR confidence level to its one-sided normal quantile.
// Unsupported levels fall back to 95%.
func zScore(confidence float64) float64 {
	switch {
	case math.Abs(confidence-0.90) < 1e-9:
		return 1.282
	case math.Abs(confidence-0.99) < 1e-9:
		return 2.326
	default:
		return 1.645
	}
}

// valueAtRisk averages the historical quantile and the parametric estimate
// and reports the loss as a non-negative number.
func valueAtRisk(pnls []float64, confidence float64) float64 {
	if len(pnls) < minTradesForVaR {
		return 0
	}
	sorted := make([]float64, len(pnls))
	copy(sorted, pnls)
	sort.Float64s(sorted)

	historical := stat.Quantile(1-confidence, stat.Empirical, sorted, nil)
	mean, std := stat.MeanStdDev(sorted, nil)
	parametric := mean - zScore(confidence)*std

	return math.Max(0, -(historical+parametric)/2)
}

// sharpeRatio annualizes mean over sample standard deviation of trade PnL.
func sharpeRatio(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(pnls, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// winLossStats returns win rate and the average absolute win and loss.
func winLossStats(pnls []float64) (winRate, avgWin, avgLoss float64) {
	if len(pnls) == 0 {
		return 0, 0, 0
	}
	var wins, losses int
	var winSum, lossSum float64
	for _, p := range pnls {
		switch {
		case p > 0:
			wins++
			winSum += p
		case p < 0:
			losses++
			lossSum += -p
		}
	}
	winRate = float64(wins) / float64(len(pnls))
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}
	return winRate, avgWin, avgLoss
}

// simpleReturns converts prices to period-over-period returns.
func simpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}

// returnsStdDev is the sample standard deviation of returns, or 0 with
// fewer than two returns.
func returnsStdDev(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

// absPearson correlates the most recent overlapping returns of two series.
// Short or degenerate series give the neutral 0.5.
func absPearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return neutralCorrelation
	}
	x := a[len(a)-n:]
	y := b[len(b)-n:]
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return neutralCorrelation
	}
	return math.Abs(c)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
