package raster

import (
	"math"
	"sort"

	"github.com/yieldera/datahub/internal/derrors"
)

// Stat names an aggregation over a population of cell values.
type Stat string

const (
	StatMean   Stat = "mean"
	StatMedian Stat = "median"
	StatSum    Stat = "sum"
	StatMin    Stat = "min"
	StatMax    Stat = "max"
)

// ParseStat validates an aggregation name from a request payload.
func ParseStat(s string) (Stat, error) {
	switch Stat(s) {
	case StatMean, StatMedian, StatSum, StatMin, StatMax:
		return Stat(s), nil
	case "":
		return StatMean, nil
	default:
		return "", derrors.Validationf(
			"use one of mean, median, sum, min, max",
			"unknown aggregation %q", s,
		)
	}
}

// Apply aggregates a population of values, excluding sentinels. An empty or
// all-sentinel population yields the sentinel.
func (s Stat) Apply(values []float64) float64 {
	var pop []float64
	for _, v := range values {
		if v != Sentinel && !math.IsNaN(v) {
			pop = append(pop, v)
		}
	}
	if len(pop) == 0 {
		return Sentinel
	}

	switch s {
	case StatMin:
		m := pop[0]
		for _, v := range pop[1:] {
			m = math.Min(m, v)
		}
		return m
	case StatMax:
		m := pop[0]
		for _, v := range pop[1:] {
			m = math.Max(m, v)
		}
		return m
	case StatSum:
		sum := 0.0
		for _, v := range pop {
			sum += v
		}
		return sum
	case StatMedian:
		sort.Float64s(pop)
		mid := len(pop) / 2
		if len(pop)%2 == 1 {
			return pop[mid]
		}
		return (pop[mid-1] + pop[mid]) / 2
	default: // StatMean
		sum := 0.0
		for _, v := range pop {
			sum += v
		}
		return sum / float64(len(pop))
	}
}
