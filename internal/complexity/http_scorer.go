package complexity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/apperr"
	"github.com/aura-webinar/watchparty/internal/metrics"
	"github.com/aura-webinar/watchparty/internal/models"
)

const breakerName = "complexity-scorer"

// HTTPConfig configures the remote scorer client.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	// Breaker opens after FailureRatio of at least MinRequests fail within Interval,
	// and probes again after OpenTimeout.
	MinRequests  uint32
	FailureRatio float64
	Interval     time.Duration
	OpenTimeout  time.Duration
}

type scoreRequest struct {
	VideoID    string  `json:"video_id"`
	TimeCode   float64 `json:"time_code"`
	Transcript string  `json:"transcript,omitempty"`
}

// HTTPScorer calls an external complexity-analysis service behind a circuit breaker.
// Every failure, including an open circuit, is reported as apperr Unavailable.
type HTTPScorer struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[models.ComplexityMetrics]
	logger *zap.Logger
}

// NewHTTPScorer creates a scorer for cfg.URL.
func NewHTTPScorer(cfg HTTPConfig, logger *zap.Logger) *HTTPScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.6
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	log := logger.With(zap.String("component", breakerName))

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	cb := gobreaker.NewCircuitBreaker[models.ComplexityMetrics](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &HTTPScorer{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     cb,
		logger: log,
	}
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, videoID string, timeCode float64, transcript string) (models.ComplexityMetrics, error) {
	m, err := s.cb.Execute(func() (models.ComplexityMetrics, error) {
		return s.fetch(ctx, videoID, timeCode, transcript)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.ScorerRequests.WithLabelValues("rejected").Inc()
		} else {
			metrics.ScorerRequests.WithLabelValues("failure").Inc()
			s.logger.Warn("complexity scorer request failed", zap.String("video_id", videoID), zap.Error(err))
		}
		return models.ComplexityMetrics{}, fmt.Errorf("score %s@%.1f: %w", videoID, timeCode,
			apperr.New(apperr.KindUnavailable, "scorer_unavailable", "complexity scorer unavailable"))
	}
	metrics.ScorerRequests.WithLabelValues("success").Inc()
	return m, nil
}

func (s *HTTPScorer) fetch(ctx context.Context, videoID string, timeCode float64, transcript string) (models.ComplexityMetrics, error) {
	body, err := json.Marshal(scoreRequest{VideoID: videoID, TimeCode: timeCode, Transcript: transcript})
	if err != nil {
		return models.ComplexityMetrics{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return models.ComplexityMetrics{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return models.ComplexityMetrics{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.ComplexityMetrics{}, fmt.Errorf("scorer status: %d", resp.StatusCode)
	}
	var m models.ComplexityMetrics
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return models.ComplexityMetrics{}, fmt.Errorf("decode response: %w", err)
	}
	return Clamp(m), nil
}

// State returns the breaker state name, for health reporting.
func (s *HTTPScorer) State() string {
	return s.cb.State().String()
}

func stateToFloat(st gobreaker.State) float64 {
	switch st {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}
