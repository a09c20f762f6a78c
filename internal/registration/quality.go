package registration

import "fmt"

// Quality grades an alignment by its fitness.
type Quality string

const (
	// QualityExcellent indicates fitness > 0.8
	QualityExcellent Quality = "excellent"
	// QualityGood indicates fitness in (0.6, 0.8]
	QualityGood Quality = "good"
	// QualityFair indicates fitness in (0.4, 0.6] - usable with caution
	QualityFair Quality = "fair"
	// QualityPoor indicates fitness in (0.2, 0.4] - consider a coarse pre-alignment
	QualityPoor Quality = "poor"
	// QualityVeryPoor indicates fitness <= 0.2 - the scans barely overlap
	QualityVeryPoor Quality = "very_poor"
)

// Fitness thresholds separating quality grades.
const (
	FitnessThresholdExcellent = 0.8
	FitnessThresholdGood      = 0.6
	FitnessThresholdFair      = 0.4
	FitnessThresholdPoor      = 0.2
)

// GradeFitness maps a fitness value to a Quality.
func GradeFitness(fitness float64) Quality {
	switch {
	case fitness > FitnessThresholdExcellent:
		return QualityExcellent
	case fitness > FitnessThresholdGood:
		return QualityGood
	case fitness > FitnessThresholdFair:
		return QualityFair
	case fitness > FitnessThresholdPoor:
		return QualityPoor
	default:
		return QualityVeryPoor
	}
}

// String returns the display label of the quality grade.
func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "Excellent"
	case QualityGood:
		return "Good"
	case QualityFair:
		return "Fair"
	case QualityPoor:
		return "Poor"
	case QualityVeryPoor:
		return "Very Poor"
	default:
		return string(q)
	}
}

// DescribeQuality returns a human-readable description of alignment quality,
// e.g. "Excellent (fitness: 0.923, RMSE: 0.0123m)".
func DescribeQuality(fitness, rmse float64) string {
	return fmt.Sprintf("%s (fitness: %.3f, RMSE: %.4fm)", GradeFitness(fitness), fitness, rmse)
}

// IsUsableForChangeDetection reports whether an alignment is good enough that
// distances computed after it reflect real change rather than misalignment.
// Only Fair or better is accepted.
func IsUsableForChangeDetection(r *Result) bool {
	if r == nil {
		return false
	}
	switch GradeFitness(r.Fitness) {
	case QualityExcellent, QualityGood, QualityFair:
		return true
	}
	return false
}
