package change

import (
	"fmt"
	"math"
)

// Class is the change category of one point.
type Class uint8

const (
	// NoChange means |distance| < threshold.
	NoChange Class = iota
	// Erosion is signed loss: distance <= -threshold.
	Erosion
	// Deposition is signed gain: distance >= threshold.
	Deposition
	// Significant is an unsigned distance >= threshold. Unsigned results
	// carry no direction and so never classify as Erosion or Deposition.
	Significant
)

func (c Class) String() string {
	switch c {
	case NoChange:
		return "no_change"
	case Erosion:
		return "erosion"
	case Deposition:
		return "deposition"
	case Significant:
		return "significant"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// classify returns the class of a single distance.
func classify(d, threshold float64, signed bool) Class {
	switch {
	case math.Abs(d) < threshold:
		return NoChange
	case !signed:
		return Significant
	case d < 0:
		return Erosion
	default:
		return Deposition
	}
}

// Classify assigns every point a Class. Points exactly at the threshold
// count as changed so the classes partition the cloud.
func (r *Result) Classify(threshold float64) []Class {
	out := make([]Class, len(r.Distances))
	for i, d := range r.Distances {
		out[i] = classify(d, threshold, r.Signed)
	}
	return out
}

// Summary counts points per class.
type Summary struct {
	Threshold   float64
	Signed      bool
	Total       int
	NoChange    int
	Erosion     int
	Deposition  int
	Significant int
}

// Summarize classifies r at threshold and counts the classes.
func Summarize(r *Result, threshold float64) Summary {
	s := Summary{Threshold: threshold, Signed: r.Signed, Total: len(r.Distances)}
	for _, d := range r.Distances {
		switch classify(d, threshold, r.Signed) {
		case NoChange:
			s.NoChange++
		case Erosion:
			s.Erosion++
		case Deposition:
			s.Deposition++
		case Significant:
			s.Significant++
		}
	}
	return s
}

// Percent returns count as a percentage of Total.
func (s Summary) Percent(count int) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(count) / float64(s.Total) * 100
}

// String renders the summary line, e.g.
// "No change: 90.0% | Erosion: 4.0% | Deposition: 6.0%".
func (s Summary) String() string {
	if s.Signed {
		return fmt.Sprintf("No change: %.1f%% | Erosion: %.1f%% | Deposition: %.1f%%",
			s.Percent(s.NoChange), s.Percent(s.Erosion), s.Percent(s.Deposition))
	}
	return fmt.Sprintf("No change: %.1f%% | Significant change: %.1f%%",
		s.Percent(s.NoChange), s.Percent(s.Significant))
}
