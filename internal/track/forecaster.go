package track

import (
	"math"

	"github.com/candela/beatlight/internal/config"
)

// minTimeSigma floors the forecast time uncertainty at one millisecond.
const minTimeSigma = 0.001

// ciZ is the two-sided 95% normal quantile used for forecast intervals.
const ciZ = 1.96

// Hit is one projected onset with its confidence interval.
type Hit struct {
	TPred      float64 `json:"t_pred_sec"`
	CILow      float64 `json:"ci_low_sec"`
	CIHigh     float64 `json:"ci_high_sec"`
	Confidence float64 `json:"confidence"`
	Index      int     `json:"hit_index"`
}

// InstrumentForecast is one instrument's projection for the current frame.
// Field order matches the forecast egress wire shape.
type InstrumentForecast struct {
	Instrument       string  `json:"instrument"`
	TempoBPM         float64 `json:"tempo_bpm"`
	Period           float64 `json:"period_sec"`
	Phase            float64 `json:"phase"`
	ConfidenceGlobal float64 `json:"confidence_global"`
	WarmupDone       bool    `json:"warmup_complete"`
	Hits             []Hit   `json:"hits"`
}

// Forecaster projects the next hits for every instrument within a bounded
// horizon and decides when a projection set is due for emission: on any
// observed hit, or as a heartbeat when the periodic interval has elapsed.
type Forecaster struct {
	horizon       float64
	maxHits       int
	minConfidence float64
	heartbeat     float64
	decayRate     float64

	lastEmission float64
}

// NewForecaster builds a forecaster from configuration.
func NewForecaster(fc *config.ForecastConfig, tc *config.TrackerConfig) *Forecaster {
	return &Forecaster{
		horizon:       fc.HorizonSeconds,
		maxHits:       fc.MaxPredictionsPerInstrument,
		minConfidence: fc.ConfidenceThresholdMin,
		heartbeat:     fc.PeriodicIntervalSec,
		decayRate:     tc.ConfidenceDecayRate,
	}
}

// Due reports whether a projection should be emitted this frame and records
// the emission time when it is.
func (f *Forecaster) Due(tNow float64, anyHit bool) bool {
	if anyHit || tNow-f.lastEmission >= f.heartbeat {
		f.lastEmission = tNow
		return true
	}
	return false
}

// Forecast projects all instruments at tNow. The result always carries
// config.NumInstruments entries in pipeline order; cold instruments have an
// empty hit list.
func (f *Forecaster) Forecast(trackers []*Tracker, tNow float64) []InstrumentForecast {
	out := make([]InstrumentForecast, config.NumInstruments)
	for i, tr := range trackers {
		out[i] = f.forecastInstrument(i, tr, tNow)
	}
	return out
}

func (f *Forecaster) forecastInstrument(idx int, tr *Tracker, tNow float64) InstrumentForecast {
	fc := InstrumentForecast{
		Instrument: config.InstrumentNames[idx],
		Period:     tr.period,
		Phase:      tr.phase,
		WarmupDone: tr.warmupDone,
		Hits:       []Hit{},
	}
	if tr.period > 1e-6 {
		fc.TempoBPM = 60.0 / tr.period
	}

	if !tr.warmupDone || tr.period < 1e-6 {
		fc.ConfidenceGlobal = tr.confidenceGlobal
		return fc
	}

	confidence := f.confidence(tr, tNow)
	tr.confidenceGlobal = confidence
	fc.ConfidenceGlobal = confidence

	sigma := f.timeSigma(tr)
	tNext := tNow + (1-tr.phase)*tr.period
	for i := 1; i <= f.maxHits && tNext <= tNow+f.horizon; i++ {
		if confidence >= f.minConfidence {
			fc.Hits = append(fc.Hits, Hit{
				TPred:      tNext,
				CILow:      tNext - ciZ*sigma,
				CIHigh:     tNext + ciZ*sigma,
				Confidence: confidence,
				Index:      i,
			})
		}
		tNext += tr.period
	}
	return fc
}

// confidence blends IOI stability, phase certainty and recency.
func (f *Forecaster) confidence(tr *Tracker, tNow float64) float64 {
	cIOI := clamp(1-tr.periodMAD/tr.period, 0, 1)
	cPhase := clamp(1-10*math.Sqrt(tr.p11), 0, 1)

	cRecency := 1.0
	if tr.lastHitTime > 0 {
		cRecency = math.Exp(-(tNow - tr.lastHitTime) / (f.decayRate * tr.period))
	}

	return 0.4*cPhase + 0.3*cIOI + 0.3*cRecency
}

// timeSigma propagates state covariance and IOI jitter into seconds.
func (f *Forecaster) timeSigma(tr *Tracker) float64 {
	periodStd := math.Sqrt(tr.p00)
	phaseStd := math.Sqrt(tr.p11)

	v := (tr.phase*periodStd)*(tr.phase*periodStd) +
		(tr.period*phaseStd)*(tr.period*phaseStd) +
		0.25*tr.periodMAD*tr.periodMAD

	return math.Max(minTimeSigma, math.Sqrt(v))
}
