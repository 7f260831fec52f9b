package services

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/irfndi/sentio-go/internal/config"
	"github.com/irfndi/sentio-go/internal/models"
)

// VotingMethod selects how per-strategy signals are combined
type VotingMethod string

const (
	VotingWeighted     VotingMethod = "weighted"
	VotingMajority     VotingMethod = "majority"
	VotingStacking     VotingMethod = "stacking"
	VotingMetaEnsemble VotingMethod = "meta_ensemble"
)

// ParseVotingMethod maps a config string to a VotingMethod, defaulting to weighted.
func ParseVotingMethod(s string) VotingMethod {
	switch VotingMethod(s) {
	case VotingMajority, VotingStacking, VotingMetaEnsemble:
		return VotingMethod(s)
	default:
		return VotingWeighted
	}
}

const (
	minStrategyWeight   = 0.5
	maxStrategyWeight   = 1.5
	winRateWeightStep   = 0.05
	regimeWeightStep    = 0.02
	maxTopStrategies    = 3
	consensusAgreeShare = 0.7
	consensusConfShare  = 0.3
)

type cachedWeight struct {
	weight    float64
	expiresAt time.Time
}

// StrategyVotingEngine resolves per-strategy signals into one decision.
// strategyWeights is the only state that survives between votes; it is
// mutated by AdvancedEnsembleVote and by SetStrategyWeight.
type StrategyVotingEngine struct {
	config          config.VotingConfig
	logger          *logrus.Logger
	now             func() time.Time
	mu              sync.Mutex
	strategyWeights map[string]float64
	weightCache     map[string]cachedWeight
}

// NewStrategyVotingEngine creates a voting engine seeded with the configured weights.
func NewStrategyVotingEngine(cfg config.VotingConfig, logger *logrus.Logger) *StrategyVotingEngine {
	defaults := config.DefaultVotingConfig()
	if cfg.MinStrategies <= 0 {
		cfg.MinStrategies = defaults.MinStrategies
	}
	if cfg.MinSignalConfidence <= 0 {
		cfg.MinSignalConfidence = defaults.MinSignalConfidence
	}
	if cfg.ConsensusThreshold <= 0 {
		cfg.ConsensusThreshold = defaults.ConsensusThreshold
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaults.MinConfidence
	}
	if cfg.HoldConfidence <= 0 {
		cfg.HoldConfidence = defaults.HoldConfidence
	}

	weights := make(map[string]float64, len(cfg.StrategyWeights))
	for name, w := range cfg.StrategyWeights {
		weights[name] = clampWeight(w)
	}

	return &StrategyVotingEngine{
		config:          cfg,
		logger:          logger,
		now:             time.Now,
		strategyWeights: weights,
		weightCache:     make(map[string]cachedWeight),
	}
}

// SetClock replaces the engine clock, used for weight cache expiry.
func (e *StrategyVotingEngine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Method returns the configured default voting method.
func (e *StrategyVotingEngine) Method() VotingMethod {
	return ParseVotingMethod(e.config.Method)
}

// Vote combines signals into a VotingResult. performances may be nil.
// Stacking and meta-ensemble methods mutate the stored strategy weights.
func (e *StrategyVotingEngine) Vote(
	signals []*models.TradingSignal,
	performances map[string]models.StrategyPerformance,
	method VotingMethod,
	diagnostics bool,
) *models.VotingResult {
	switch method {
	case VotingStacking, VotingMetaEnsemble:
		e.mu.Lock()
		e.adjustWeightsLocked(performances, nil)
		e.mu.Unlock()
	case VotingMajority, VotingWeighted:
	default:
		method = VotingWeighted
	}
	return e.tally(signals, performances, method, diagnostics)
}

// AdvancedEnsembleVote nudges stored strategy weights by recent win rate and
// the macro regime, then runs a weighted vote with the new weights.
// Weights only ever move by fixed steps and are clamped to [0.5, 1.5].
func (e *StrategyVotingEngine) AdvancedEnsembleVote(
	signals []*models.TradingSignal,
	performances map[string]models.StrategyPerformance,
	regime *models.MarketRegime,
) *models.VotingResult {
	method := VotingStacking
	if regime != nil {
		method = VotingMetaEnsemble
	}

	e.mu.Lock()
	e.adjustWeightsLocked(performances, regime)
	e.mu.Unlock()

	result := e.tally(signals, performances, method, true)
	if regime != nil {
		result.Diagnostics["regime"] = regime.Name
	}
	return result
}

func (e *StrategyVotingEngine) adjustWeightsLocked(performances map[string]models.StrategyPerformance, regime *models.MarketRegime) {
	for name, perf := range performances {
		w := e.baseWeightLocked(name)
		switch {
		case perf.WinRate > 0.6:
			w += winRateWeightStep
		case perf.WinRate < 0.4:
			w -= winRateWeightStep
		}
		e.strategyWeights[name] = clampWeight(w)
	}

	if regime != nil {
		for _, name := range regime.Favored {
			e.strategyWeights[name] = clampWeight(e.baseWeightLocked(name) + regimeWeightStep)
		}
		for _, name := range regime.Disfavored {
			e.strategyWeights[name] = clampWeight(e.baseWeightLocked(name) - regimeWeightStep)
		}
	}

	// cached weights embed the old base weights
	e.weightCache = make(map[string]cachedWeight)
}

func (e *StrategyVotingEngine) tally(
	signals []*models.TradingSignal,
	performances map[string]models.StrategyPerformance,
	method VotingMethod,
	diagnostics bool,
) *models.VotingResult {
	now := e.clock()
	result := &models.VotingResult{
		FinalSignal:             models.SignalHold,
		ParticipatingStrategies: []string{},
		VoteBreakdown:           emptyBreakdown(),
		WeightedScores:          emptyScores(),
		TopStrategies:           []string{},
		Uncertainty:             1,
		Diagnostics:             map[string]interface{}{},
		Timestamp:               now,
	}
	result.Diagnostics["method"] = string(method)
	result.Diagnostics["input_signals"] = len(signals)

	filtered := make([]*models.TradingSignal, 0, len(signals))
	for _, s := range signals {
		if s != nil && s.Confidence >= e.config.MinSignalConfidence {
			filtered = append(filtered, s)
		}
	}
	result.Diagnostics["filtered_signals"] = len(filtered)

	if len(filtered) < e.config.MinStrategies {
		result.Diagnostics["fallback_reason"] = "insufficient_signals"
		e.logger.WithFields(logrus.Fields{
			"signals":        len(signals),
			"filtered":       len(filtered),
			"min_strategies": e.config.MinStrategies,
		}).Debug("Not enough confident signals to vote")
		return e.finish(result, diagnostics)
	}

	weights := make(map[string]float64, len(filtered))
	for _, s := range filtered {
		result.ParticipatingStrategies = append(result.ParticipatingStrategies, s.StrategyName)
		w := 1.0
		if method != VotingMajority {
			w = e.strategyWeight(s.StrategyName, performances, now)
		}
		weights[s.StrategyName] = w
		st := signalTypeOf(s)
		result.WeightedScores[st] += w * s.Confidence
		result.VoteBreakdown[st]++
	}
	result.Diagnostics["weights"] = weights

	total := 0.0
	for _, score := range result.WeightedScores {
		total += score
	}

	winner := models.SignalHold
	best := math.Inf(-1)
	for _, st := range models.SignalTypes {
		if result.WeightedScores[st] > best {
			best = result.WeightedScores[st]
			winner = st
		}
	}

	confidence := 0.0
	if total > 0 {
		confidence = best / total
	}
	result.Uncertainty = normalizedEntropy(result.WeightedScores, total)

	if winner == models.SignalHold || confidence < e.config.HoldConfidence {
		winner = models.SignalHold
		confidence = 0
	}

	agreeing := make([]*models.TradingSignal, 0, len(filtered))
	confSum := 0.0
	for _, s := range filtered {
		if signalTypeOf(s) == winner {
			agreeing = append(agreeing, s)
			confSum += s.Confidence
		}
	}
	meanConf := 0.0
	if len(agreeing) > 0 {
		meanConf = confSum / float64(len(agreeing))
	}
	consensus := consensusAgreeShare*float64(len(agreeing))/float64(len(filtered)) + consensusConfShare*meanConf

	result.FinalSignal = winner
	result.Confidence = confidence
	result.ConsensusStrength = consensus
	result.TopStrategies = topStrategies(agreeing, weights)

	if winner != models.SignalHold &&
		(consensus < e.config.ConsensusThreshold || confidence < e.config.MinConfidence) {
		result.Diagnostics["fallback_reason"] = "below_threshold"
		result.Diagnostics["rejected_signal"] = string(winner)
		result.Diagnostics["rejected_confidence"] = confidence
		result.FinalSignal = models.SignalHold
		result.Confidence = 0
	}

	e.logger.WithFields(logrus.Fields{
		"final_signal": result.FinalSignal,
		"confidence":   result.Confidence,
		"consensus":    result.ConsensusStrength,
		"participants": len(filtered),
		"method":       method,
	}).Debug("Voting completed")

	return e.finish(result, diagnostics)
}

func (e *StrategyVotingEngine) finish(result *models.VotingResult, diagnostics bool) *models.VotingResult {
	if !diagnostics {
		result.Diagnostics = nil
	}
	return result
}

// strategyWeight returns the stored base weight scaled by the performance
// factor. Performance-scaled weights are cached per strategy for the TTL.
func (e *StrategyVotingEngine) strategyWeight(name string, performances map[string]models.StrategyPerformance, now time.Time) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.baseWeightLocked(name)
	perf, ok := performances[name]
	if !ok {
		return base
	}

	if cached, hit := e.weightCache[name]; hit && now.Before(cached.expiresAt) {
		return cached.weight
	}

	w := base * PerformanceFactor(perf)
	e.weightCache[name] = cachedWeight{weight: w, expiresAt: now.Add(e.config.WeightCacheDuration())}
	return w
}

func (e *StrategyVotingEngine) baseWeightLocked(name string) float64 {
	if w, ok := e.strategyWeights[name]; ok {
		return w
	}
	return 1.0
}

func (e *StrategyVotingEngine) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now()
}

// PerformanceFactor scales a vote by historical win rate and Sharpe ratio.
func PerformanceFactor(perf models.StrategyPerformance) float64 {
	winRateFactor := 0.8 + perf.WinRate*0.4
	sharpeFactor := 1 + math.Min(math.Max(perf.SharpeRatio, 0)/10, 0.1)
	return winRateFactor * sharpeFactor
}

// GetStrategyWeights returns a copy of the stored base weights.
func (e *StrategyVotingEngine) GetStrategyWeights() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]float64, len(e.strategyWeights))
	for k, v := range e.strategyWeights {
		out[k] = v
	}
	return out
}

// SetStrategyWeight overrides a strategy's base weight, clamped to [0.5, 1.5].
func (e *StrategyVotingEngine) SetStrategyWeight(name string, weight float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.strategyWeights[name] = clampWeight(weight)
	delete(e.weightCache, name)
}

// signalTypeOf treats unknown signal types as HOLD.
func signalTypeOf(s *models.TradingSignal) models.SignalType {
	return models.ParseSignalType(string(s.SignalType))
}

func clampWeight(w float64) float64 {
	return math.Max(minStrategyWeight, math.Min(maxStrategyWeight, w))
}

// normalizedEntropy is the Shannon entropy of the score distribution divided
// by its maximum, so 0 means one signal type holds all weight.
func normalizedEntropy(scores map[models.SignalType]float64, total float64) float64 {
	if total <= 0 {
		return 1
	}
	p := make([]float64, 0, len(models.SignalTypes))
	for _, st := range models.SignalTypes {
		p = append(p, scores[st]/total)
	}
	return stat.Entropy(p) / math.Log(float64(len(models.SignalTypes)))
}

func topStrategies(agreeing []*models.TradingSignal, weights map[string]float64) []string {
	ranked := make([]*models.TradingSignal, len(agreeing))
	copy(ranked, agreeing)
	sort.SliceStable(ranked, func(i, j int) bool {
		return weights[ranked[i].StrategyName]*ranked[i].Confidence >
			weights[ranked[j].StrategyName]*ranked[j].Confidence
	})

	out := make([]string, 0, maxTopStrategies)
	for _, s := range ranked {
		if len(out) == maxTopStrategies {
			break
		}
		out = append(out, s.StrategyName)
	}
	return out
}

func emptyBreakdown() map[models.SignalType]int {
	out := make(map[models.SignalType]int, len(models.SignalTypes))
	for _, st := range models.SignalTypes {
		out[st] = 0
	}
	return out
}

func emptyScores() map[models.SignalType]float64 {
	out := make(map[models.SignalType]float64, len(models.SignalTypes))
	for _, st := range models.SignalTypes {
		out[st] = 0
	}
	return out
}
