package models

import "time"

// ComplexityMetrics are per-dimension scores in [0,1].
type ComplexityMetrics struct {
	SpeechRate         float64 `json:"speech_rate"`
	InformationDensity float64 `json:"information_density"`
	ConceptDifficulty  float64 `json:"concept_difficulty"`
	VisualComplexity   float64 `json:"visual_complexity"`
	Overall            float64 `json:"overall"`
}

// SpeedRecommendation is the latest recommendation for one viewer of one video.
type SpeedRecommendation struct {
	VideoID          string             `json:"video_id"`
	UserID           string             `json:"user_id"`
	TimeCode         float64            `json:"time_code"`
	RecommendedSpeed float64            `json:"recommended_speed"`
	Confidence       float64            `json:"confidence"`
	Reasoning        string             `json:"reasoning"`
	ProducedAt       time.Time          `json:"produced_at"`
	ApplyAfterMs     int64              `json:"apply_after_ms"` // 0 when no speed change is scheduled
	Metrics          *ComplexityMetrics `json:"metrics,omitempty"`
}
