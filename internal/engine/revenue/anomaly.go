// internal/engine/revenue/anomaly.go
package revenue

import (
	"math"
	"time"
)

const (
	// minSeriesLen is the shortest series worth scoring. Below this the
	// standard deviation is dominated by noise.
	minSeriesLen = 7

	// sigmaThreshold flags values more than this many standard deviations
	// from the window mean.
	sigmaThreshold = 2.0
)

const (
	MetricRevenue     = "revenue"
	MetricCollections = "collections"

	DirectionHigh = "high"
	DirectionLow  = "low"
)

// DayStat is one day of the collected/verified ledger series.
type DayStat struct {
	Day          time.Time
	Collections  int
	RevenueCents int64
}

// Outlier is a day whose metric sits outside the sigma threshold.
type Outlier struct {
	Day       time.Time
	Metric    string
	Direction string
	Value     float64
	Mean      float64
	StdDev    float64
}

// DetectOutliers scores each day's revenue and collection count against the
// window mean. Pure function over the series; the caller decides what to do
// with the result.
func DetectOutliers(series []DayStat) []Outlier {
	if len(series) < minSeriesLen {
		return nil
	}

	revenue := make([]float64, len(series))
	counts := make([]float64, len(series))
	for i, s := range series {
		revenue[i] = float64(s.RevenueCents)
		counts[i] = float64(s.Collections)
	}

	var outliers []Outlier
	outliers = append(outliers, scoreMetric(series, revenue, MetricRevenue)...)
	outliers = append(outliers, scoreMetric(series, counts, MetricCollections)...)
	return outliers
}

func scoreMetric(series []DayStat, values []float64, metric string) []Outlier {
	mean, stddev := meanStdDev(values)
	if stddev == 0 {
		// A flat series has no outliers by definition.
		return nil
	}

	var outliers []Outlier
	for i, v := range values {
		distance := (v - mean) / stddev
		if math.Abs(distance) <= sigmaThreshold {
			continue
		}
		direction := DirectionHigh
		if distance < 0 {
			direction = DirectionLow
		}
		outliers = append(outliers, Outlier{
			Day:       series[i].Day,
			Metric:    metric,
			Direction: direction,
			Value:     v,
			Mean:      mean,
			StdDev:    stddev,
		})
	}
	return outliers
}

func meanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
