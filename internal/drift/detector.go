// Package drift watches the live feature distribution for divergence
// from the distribution the model was trained on.
package drift

import (
	"math"
	"sync"

	"github.com/banking/fraud-detection/internal/domain"
	"github.com/banking/fraud-detection/internal/pkg/logger"
	"github.com/banking/fraud-detection/internal/pkg/metrics"
)

// defaultWindow is the number of recent vectors per rolling estimate.
const defaultWindow = 1000

// Detector maintains rolling per-feature means over a fixed window and
// compares them against the training-time reference statistics. The
// drift score is the largest absolute z-distance of any rolling mean
// from its reference mean.
type Detector struct {
	refMeans   []float64
	refStddevs []float64
	names      []string
	threshold  float64
	window     int
	log        *logger.Logger

	mu     sync.Mutex
	ring   [][]float64
	next   int
	filled bool
	sums   []float64
}

// NewDetector builds a detector from the model's training statistics.
// A window of 0 selects the default.
func NewDetector(names []string, refMeans, refStddevs []float64, threshold float64, window int, log *logger.Logger) *Detector {
	if window <= 0 {
		window = defaultWindow
	}
	return &Detector{
		refMeans:   refMeans,
		refStddevs: refStddevs,
		names:      names,
		threshold:  threshold,
		window:     window,
		log:        log.Named("drift"),
		ring:       make([][]float64, window),
		sums:       make([]float64, len(refMeans)),
	}
}

// Observe folds one feature vector into the rolling window. Vectors of
// unexpected width are ignored. Once the window is full the drift
// score is recomputed and exported after every observation.
func (d *Detector) Observe(fv *domain.FeatureVector) {
	if len(fv.Values) != len(d.refMeans) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if old := d.ring[d.next]; old != nil {
		for i, v := range old {
			d.sums[i] -= v
		}
	}
	vals := make([]float64, len(fv.Values))
	copy(vals, fv.Values)
	d.ring[d.next] = vals
	for i, v := range vals {
		d.sums[i] += v
	}

	d.next++
	if d.next == d.window {
		d.next = 0
		d.filled = true
	}
	if !d.filled {
		return
	}

	score, feature := d.scoreLocked()
	metrics.FeatureDriftScore.Set(score)
	if score > d.threshold {
		d.log.Warn("feature drift above threshold",
			logger.Float64Field("drift_score", score),
			logger.StringField("feature", feature),
			logger.Float64Field("threshold", d.threshold))
	}
}

// Score returns the current drift score, or 0 while the window is
// still filling.
func (d *Detector) Score() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.filled {
		return 0
	}
	score, _ := d.scoreLocked()
	return score
}

func (d *Detector) scoreLocked() (float64, string) {
	var worst float64
	var worstFeature string
	n := float64(d.window)

	for i := range d.refMeans {
		stddev := d.refStddevs[i]
		if stddev == 0 {
			stddev = 1
		}
		z := math.Abs(d.sums[i]/n-d.refMeans[i]) / stddev
		if z > worst {
			worst = z
			worstFeature = d.names[i]
		}
	}
	return worst, worstFeature
}
