// Package optimizer implements the perturb-and-select sleep-cycle
// hyperparameter tuner (C10).
package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aurora-assistant/ragmemory/internal/blobstore"
	"github.com/aurora-assistant/ragmemory/internal/consolidation"
	"github.com/aurora-assistant/ragmemory/internal/ragerrors"
	"github.com/aurora-assistant/ragmemory/internal/telemetry"
	"github.com/aurora-assistant/ragmemory/internal/xlog"
)

const (
	telemetryWindow     = 500
	minTelemetrySamples = 50
	fitnessHistoryCap   = 100
	maxConsecutiveDegradations = 3

	perturbStdDev  = 0.1
	perturbClip    = 0.2
	selectionSlack = 0.005
	improvementGap = 0.005
	thresholdGap   = 0.1
)

// TunableParams are the six hyperparameters the optimiser adjusts,
// consumed by the chunk store (learningRate) and the consolidator
// (the rest) on every cycle.
type TunableParams struct {
	LearningRate                  float64
	StrengthenThreshold           float64
	ConsolidationThreshold        float64
	ForgetThreshold               float64
	MaxForgetPerCycle             int
	ConnectionSimilarityThreshold float64
}

// Bounds per §4.2's TunableParams definition.
var (
	learningRateBounds    = bound{0.01, 0.5}
	strengthenBounds      = bound{0.5, 0.95}
	consolidationBounds   = bound{0.15, 0.6}
	forgetBounds          = bound{0.03, 0.3}
	maxForgetBounds       = bound{1, 20}
	connectionSimBounds   = bound{0.1, 0.7}
)

type bound struct{ lo, hi float64 }

func (b bound) clip(v float64) float64 {
	if v < b.lo {
		return b.lo
	}
	if v > b.hi {
		return b.hi
	}
	return v
}

// DefaultParams is the engine's out-of-the-box TunableParams, also the
// reset target after three consecutive degradations.
func DefaultParams() TunableParams {
	return TunableParams{
		LearningRate:                  0.1,
		StrengthenThreshold:           0.8,
		ConsolidationThreshold:        0.3,
		ForgetThreshold:               0.1,
		MaxForgetPerCycle:             5,
		ConnectionSimilarityThreshold: 0.1,
	}
}

// ToThresholds adapts TunableParams to the consolidator's Thresholds
// shape (the two packages model an overlapping but not identical set
// of knobs, so this lives here rather than creating a dependency from
// consolidation back onto optimizer).
func (p TunableParams) ToThresholds() consolidation.Thresholds {
	return consolidation.Thresholds{
		LearningRate:                  p.LearningRate,
		StrengthenThreshold:           p.StrengthenThreshold,
		ConsolidationThreshold:        p.ConsolidationThreshold,
		ForgetThreshold:               p.ForgetThreshold,
		MaxForgetPerCycle:             p.MaxForgetPerCycle,
		ConnectionSimilarityThreshold: p.ConnectionSimilarityThreshold,
	}
}

// QualityProvider supplies the store-side half of the fitness function;
// the chunk index is the production implementation.
type QualityProvider interface {
	QualitySnapshot() (avgQValue, successRate float64)
}

// Result reports the outcome of one optimisation step.
type Result struct {
	Applied     bool
	Reason      string
	Fitness     float64
	Improvement bool
	Degradation bool
	Params      TunableParams
}

// state is the persisted optimiser state (§4.9 step 5).
type state struct {
	CurrentParams   TunableParams `json:"currentParams"`
	PreviousParams  TunableParams `json:"previousParams"`
	HasPrevious     bool          `json:"hasPrevious"`
	PreviousFitness float64       `json:"previousFitness"`
	Cycle           int           `json:"cycle"`
	Degradations    int           `json:"degradations"`
	Improvements    int           `json:"improvements"`
	Reversions      int           `json:"reversions"`
	FitnessHistory  []float64     `json:"fitnessHistory"`
}

// Optimizer runs one perturb-and-select step per consolidation cycle.
type Optimizer struct {
	store  blobstore.Store
	sink   telemetry.Sink
	rand   *rand.Rand
	logger *zap.Logger
}

// Option configures an Optimizer at construction time.
type Option func(*Optimizer)

func WithRand(r *rand.Rand) Option   { return func(o *Optimizer) { o.rand = r } }
func WithLogger(l *zap.Logger) Option { return func(o *Optimizer) { o.logger = l } }

func New(store blobstore.Store, sink telemetry.Sink, opts ...Option) *Optimizer {
	o := &Optimizer{store: store, sink: sink, rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = xlog.OrNop(o.logger)
	return o
}

// CurrentParams loads the persisted current params, or DefaultParams if
// the optimiser has never run.
func (o *Optimizer) CurrentParams(ctx context.Context) (TunableParams, error) {
	st, err := o.load(ctx)
	if err != nil {
		return TunableParams{}, err
	}
	if st.Cycle == 0 {
		return DefaultParams(), nil
	}
	return st.CurrentParams, nil
}

// Step executes one optimisation cycle per §4.9.
func (o *Optimizer) Step(ctx context.Context, quality QualityProvider) (Result, error) {
	events, err := o.sink.ReadRecent(telemetryWindow)
	if err != nil {
		return Result{}, fmt.Errorf("optimizer: read telemetry: %w", err)
	}
	if len(events) < minTelemetrySamples {
		return Result{Applied: false, Reason: "insufficient_telemetry"}, nil
	}

	st, err := o.load(ctx)
	if err != nil {
		return Result{}, err
	}
	if st.Cycle == 0 {
		st.CurrentParams = DefaultParams()
	}

	avgQ, successRate := quality.QualitySnapshot()
	fitness := computeFitness(events, avgQ, successRate)

	result := Result{Applied: true, Fitness: fitness, Params: st.CurrentParams}

	if !st.HasPrevious {
		// First cycle: accept unconditionally.
	} else {
		delta := fitness - st.PreviousFitness
		switch {
		case delta > improvementGap:
			result.Improvement = true
			st.Improvements++
			st.Degradations = 0
		case delta >= -selectionSlack:
			// kept, neither an improvement nor a degradation
			st.Degradations = 0
		default:
			result.Degradation = true
			st.Degradations++
			st.Reversions++
			st.CurrentParams = st.PreviousParams
			if st.Degradations >= maxConsecutiveDegradations {
				st.CurrentParams = DefaultParams()
				st.Degradations = 0
			}
		}
	}

	st.PreviousParams = st.CurrentParams
	st.PreviousFitness = fitness
	st.HasPrevious = true
	st.Cycle++
	st.FitnessHistory = append(st.FitnessHistory, fitness)
	if len(st.FitnessHistory) > fitnessHistoryCap {
		st.FitnessHistory = st.FitnessHistory[len(st.FitnessHistory)-fitnessHistoryCap:]
	}

	st.CurrentParams = o.perturb(st.CurrentParams)
	result.Params = st.CurrentParams

	if err := o.persist(ctx, st); err != nil {
		return Result{}, err
	}
	return result, nil
}

// computeFitness implements §4.9 step 2.
func computeFitness(events []telemetry.Event, avgQValue, successRate float64) float64 {
	summaries := telemetry.BuildSummary(events, telemetryWindow)

	var topScoreSum, emptyRateSum, latencySum float64
	var n int
	for _, s := range summaries {
		topScoreSum += s.TopKRelevanceProxy * float64(s.SampleCount)
		emptyRateSum += s.EmptyHitRate * float64(s.SampleCount)
		latencySum += s.P50LatencyMs * float64(s.SampleCount)
		n += s.SampleCount
	}
	if n == 0 {
		return 0
	}
	avgTopScore := clamp01(topScoreSum / float64(n))
	emptyHitRate := clamp01(emptyRateSum / float64(n))
	avgLatencyMs := latencySum / float64(n)

	qHealth := clamp01(0.6*avgQValue + 0.4*successRate)
	latencyScore := clamp01(1 / (1 + avgLatencyMs/1000))

	return clamp01(0.35*avgTopScore + 0.25*(1-emptyHitRate) + 0.25*qHealth + 0.15*latencyScore)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// perturb samples Gaussian noise per parameter, clips it, applies it
// multiplicatively, re-clips to the parameter's bounds, then repairs
// threshold ordering. decimal.Decimal carries the multiplicative step
// so repeated cycles don't accumulate binary-float drift in the
// ordering invariant's comparisons.
func (o *Optimizer) perturb(p TunableParams) TunableParams {
	next := TunableParams{
		LearningRate:                  learningRateBounds.clip(o.jitter(p.LearningRate)),
		StrengthenThreshold:           strengthenBounds.clip(o.jitter(p.StrengthenThreshold)),
		ConsolidationThreshold:        consolidationBounds.clip(o.jitter(p.ConsolidationThreshold)),
		ForgetThreshold:               forgetBounds.clip(o.jitter(p.ForgetThreshold)),
		MaxForgetPerCycle:             int(maxForgetBounds.clip(o.jitter(float64(p.MaxForgetPerCycle)))),
		ConnectionSimilarityThreshold: connectionSimBounds.clip(o.jitter(p.ConnectionSimilarityThreshold)),
	}
	return repairThresholdOrdering(next)
}

func (o *Optimizer) jitter(v float64) float64 {
	noise := o.rand.NormFloat64() * perturbStdDev
	if noise > perturbClip {
		noise = perturbClip
	}
	if noise < -perturbClip {
		noise = -perturbClip
	}
	d := decimal.NewFromFloat(v).Mul(decimal.NewFromFloat(1 + noise))
	f, _ := d.Float64()
	return f
}

// repairThresholdOrdering enforces forget+0.1 <= consolidation <=
// strengthen-0.1 by raising consolidation first, then strengthen (forget
// is left as it is), using decimal arithmetic so the 0.1 gap survives
// exactly; each value is then clipped to its bounds.
func repairThresholdOrdering(p TunableParams) TunableParams {
	forget := decimal.NewFromFloat(p.ForgetThreshold)
	mid := decimal.NewFromFloat(p.ConsolidationThreshold)
	strengthen := decimal.NewFromFloat(p.StrengthenThreshold)
	gap := decimal.NewFromFloat(thresholdGap)

	if mid.LessThan(forget.Add(gap)) {
		mid = forget.Add(gap)
	}
	if strengthen.LessThan(mid.Add(gap)) {
		strengthen = mid.Add(gap)
	}

	cf, _ := forget.Float64()
	cc, _ := mid.Float64()
	cs, _ := strengthen.Float64()
	p.ForgetThreshold = forgetBounds.clip(cf)
	p.ConsolidationThreshold = consolidationBounds.clip(cc)
	p.StrengthenThreshold = strengthenBounds.clip(cs)
	return p
}

func (o *Optimizer) load(ctx context.Context) (state, error) {
	has, err := o.store.Has(ctx, blobstore.KeySleepCycleOptimizer)
	if err != nil {
		return state{}, fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	if !has {
		return state{}, nil
	}
	data, err := o.store.Get(ctx, blobstore.KeySleepCycleOptimizer)
	if err != nil {
		return state{}, fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return state{}, fmt.Errorf("%w: %v", ragerrors.ErrCorruptStore, err)
	}
	return st, nil
}

func (o *Optimizer) persist(ctx context.Context, st state) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("optimizer: marshal: %w", err)
	}
	if err := o.store.Put(ctx, blobstore.KeySleepCycleOptimizer, data); err != nil {
		return fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	return nil
}
