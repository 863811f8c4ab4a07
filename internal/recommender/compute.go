package recommender

import (
	"math"

	"github.com/aura-webinar/watchparty/internal/models"
)

// Weights of the overall complexity score. Concept difficulty dominates.
const (
	weightSpeech  = 0.2
	weightDensity = 0.3
	weightConcept = 0.4
	weightVisual  = 0.1
)

// speedStep matches the steps of a player's speed menu.
const speedStep = 0.25

// Overall returns the weighted complexity in [0,1].
func Overall(m models.ComplexityMetrics) float64 {
	return m.SpeechRate*weightSpeech +
		m.InformationDensity*weightDensity +
		m.ConceptDifficulty*weightConcept +
		m.VisualComplexity*weightVisual
}

// Compute maps complexity and proficiency to a recommendation. Only the speed,
// confidence, reasoning and metrics fields are filled in.
func Compute(m models.ComplexityMetrics, p Proficiency) models.SpeedRecommendation {
	m.Overall = Overall(m)

	// 0..1 complexity maps inversely onto 0.5..1.5, then proficiency shifts it.
	speed := 0.5 + (1-m.Overall)*1.0
	speed += p.SubjectKnowledge * 0.5
	if p.PreferredSpeed > 0 {
		speed += p.PreferredSpeed - DefaultSpeed
	}
	speed = math.Round(clampSpeed(speed)/speedStep) * speedStep

	return models.SpeedRecommendation{
		RecommendedSpeed: speed,
		Confidence:       confidence(m),
		Reasoning:        reasoning(m.Overall, p.SubjectKnowledge),
		Metrics:          &m,
	}
}

// confidence is high when the four dimensions agree.
func confidence(m models.ComplexityMetrics) float64 {
	vals := [4]float64{m.SpeechRate, m.InformationDensity, m.ConceptDifficulty, m.VisualComplexity}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var variance float64
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(vals))
	return 1 - math.Min(1, variance*4)
}

func reasoning(overall, knowledge float64) string {
	var s string
	switch {
	case overall > 0.7:
		s = "Content is complex; slower speed recommended for better comprehension."
	case overall < 0.3:
		s = "Content is straightforward; faster speed recommended for efficiency."
	default:
		s = "Content has moderate complexity; balanced speed recommended."
	}
	switch {
	case knowledge > 0.7:
		s += " Your familiarity with this subject allows for faster playback."
	case knowledge < 0.3:
		s += " As you're still learning this subject, a moderate pace is suggested."
	}
	return s
}

func clampSpeed(s float64) float64 {
	return math.Min(MaxSpeed, math.Max(MinSpeed, s))
}
