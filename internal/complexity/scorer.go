// Package complexity provides content-complexity scorers consumed by the playback recommender.
package complexity

import (
	"context"
	"math"

	"github.com/aura-webinar/watchparty/internal/models"
)

// Scorer returns per-dimension complexity scores in [0,1] for a video position.
// Implementations report dependency failures as apperr Unavailable.
type Scorer interface {
	Score(ctx context.Context, videoID string, timeCode float64, transcript string) (models.ComplexityMetrics, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, videoID string, timeCode float64, transcript string) (models.ComplexityMetrics, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, videoID string, timeCode float64, transcript string) (models.ComplexityMetrics, error) {
	return f(ctx, videoID, timeCode, transcript)
}

// Clamp bounds every dimension of m to [0,1].
func Clamp(m models.ComplexityMetrics) models.ComplexityMetrics {
	m.SpeechRate = clamp01(m.SpeechRate)
	m.InformationDensity = clamp01(m.InformationDensity)
	m.ConceptDifficulty = clamp01(m.ConceptDifficulty)
	m.VisualComplexity = clamp01(m.VisualComplexity)
	return m
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

type section struct{ speech, info, concept, visual float64 }

// Five one-minute sections repeating every five minutes: intro, main concepts,
// complex explanation, examples, summary.
var sections = [5]section{
	{0.3, 0.2, 0.2, 0.3},
	{0.5, 0.6, 0.7, 0.5},
	{0.7, 0.8, 0.9, 0.7},
	{0.6, 0.7, 0.8, 0.6},
	{0.4, 0.5, 0.6, 0.4},
}

// Simulated is a deterministic scorer for development and demos. It ignores the transcript.
type Simulated struct{}

// Score implements Scorer.
func (Simulated) Score(_ context.Context, _ string, timeCode float64, _ string) (models.ComplexityMetrics, error) {
	if timeCode < 0 {
		timeCode = 0
	}
	normalized := math.Mod(timeCode, 300)
	sec := sections[int(normalized/60)%len(sections)]
	progress := math.Mod(normalized, 60) / 60
	variation := math.Sin(progress*math.Pi) * 0.2

	return Clamp(models.ComplexityMetrics{
		SpeechRate:         sec.speech + variation*0.5,
		InformationDensity: sec.info + variation*0.3,
		ConceptDifficulty:  sec.concept + variation*0.2,
		VisualComplexity:   sec.visual + variation*0.4,
	}), nil
}
