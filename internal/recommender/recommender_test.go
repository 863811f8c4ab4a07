package recommender

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/watchparty/internal/apperr"
	"github.com/aura-webinar/watchparty/internal/complexity"
	"github.com/aura-webinar/watchparty/internal/models"
)

func uniform(x float64) models.ComplexityMetrics {
	return models.ComplexityMetrics{SpeechRate: x, InformationDensity: x, ConceptDifficulty: x, VisualComplexity: x}
}

// seqScorer returns scores[i] on the i-th call; an entry < 0 fails with Unavailable.
func seqScorer(scores ...float64) complexity.Scorer {
	var mu sync.Mutex
	i := 0
	return complexity.ScorerFunc(func(context.Context, string, float64, string) (models.ComplexityMetrics, error) {
		mu.Lock()
		defer mu.Unlock()
		s := scores[i%len(scores)]
		i++
		if s < 0 {
			return models.ComplexityMetrics{}, apperr.New(apperr.KindUnavailable, "scorer_unavailable", "down")
		}
		return uniform(s), nil
	})
}

func TestCompute(t *testing.T) {
	m := models.ComplexityMetrics{SpeechRate: 1, InformationDensity: 0, ConceptDifficulty: 0, VisualComplexity: 0}
	assert.InDelta(t, 0.2, Overall(m), 1e-9)
	assert.InDelta(t, 0.4, Overall(models.ComplexityMetrics{ConceptDifficulty: 1}), 1e-9)

	tests := []struct {
		name      string
		overall   float64
		prof      Proficiency
		wantSpeed float64
	}{
		{"simple content, average viewer", 0, Proficiency{SubjectKnowledge: 0.5, PreferredSpeed: 1}, 1.75},
		{"complex content, average viewer", 1, Proficiency{SubjectKnowledge: 0.5, PreferredSpeed: 1}, 0.75},
		{"complex content, beginner", 1, Proficiency{SubjectKnowledge: 0, PreferredSpeed: 1}, 0.5},
		{"simple content, expert who likes speed", 0, Proficiency{SubjectKnowledge: 1, PreferredSpeed: 1.5}, 2.0},
		{"rounds up to the next quarter step", 0.3, Proficiency{SubjectKnowledge: 0.5, PreferredSpeed: 1}, 1.5},
		{"rounds down to the previous quarter step", 0.6, Proficiency{SubjectKnowledge: 0.5, PreferredSpeed: 1}, 1.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Compute(uniform(tt.overall), tt.prof)
			assert.InDelta(t, tt.wantSpeed, rec.RecommendedSpeed, 1e-9)
			assert.InDelta(t, 1.0, rec.Confidence, 1e-9, "uniform metrics give full confidence")
			assert.NotEmpty(t, rec.Reasoning)
		})
	}

	spread := Compute(models.ComplexityMetrics{SpeechRate: 0, InformationDensity: 1, ConceptDifficulty: 0, VisualComplexity: 1}, DefaultProficiency{}.Proficiency(context.Background(), "", ""))
	assert.InDelta(t, 0.0, spread.Confidence, 1e-9)
}

func TestAnalyze_CadenceAndPause(t *testing.T) {
	r := New(seqScorer(0.5), nil, Config{ApplyDelay: time.Hour}, nil)
	defer r.Close()
	ctx := context.Background()

	rec, err := r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: 0})
	require.NoError(t, err)
	require.NotNil(t, rec)

	rec, err = r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: 5})
	require.NoError(t, err)
	assert.Nil(t, rec, "within cadence window")

	rec, err = r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: 10, Paused: true})
	require.NoError(t, err)
	assert.Nil(t, rec, "paused")

	rec, err = r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: 10})
	require.NoError(t, err)
	assert.NotNil(t, rec)

	// Other viewers have independent cadence.
	rec, err = r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "u2", TimeCode: 11})
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestAnalyze_HysteresisPreventsThrashing(t *testing.T) {
	r := New(seqScorer(0.3, 0.32), nil, Config{ApplyDelay: 10 * time.Millisecond}, nil)
	defer r.Close()
	ctx := context.Background()

	first, err := r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: 0})
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, int64(10), first.ApplyAfterMs, "1.0x -> first recommendation crosses the threshold")
	require.Eventually(t, func() bool { return r.Applied("v1", "u1") == first.RecommendedSpeed }, time.Second, 5*time.Millisecond)

	applied := r.Applied("v1", "u1")
	for i := 1; i <= 20; i++ {
		rec, err := r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: float64(i * 10)})
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Less(t, abs(rec.RecommendedSpeed-applied), 0.25)
		assert.Zero(t, rec.ApplyAfterMs)
		assert.False(t, r.Pending("v1", "u1"))
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, applied, r.Applied("v1", "u1"))
}

func TestAnalyze_LaterRecommendationSupersedes(t *testing.T) {
	r := New(seqScorer(0, 1), nil, Config{ApplyDelay: 50 * time.Millisecond}, nil)
	defer r.Close()

	var mu sync.Mutex
	var appliedSpeeds []float64
	r.SetApplyHandler(func(videoID, userID string, speed float64) {
		mu.Lock()
		defer mu.Unlock()
		appliedSpeeds = append(appliedSpeeds, speed)
	})

	ctx := context.Background()
	fast, err := r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.75, fast.RecommendedSpeed, 1e-9)

	slow, err := r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: 10})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, slow.RecommendedSpeed, 1e-9)
	assert.Equal(t, int64(50), slow.ApplyAfterMs)

	require.Eventually(t, func() bool { return r.Applied("v1", "u1") == 0.75 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{0.75}, appliedSpeeds)
}

func TestCancel_StopsPendingChange(t *testing.T) {
	r := New(seqScorer(0), nil, Config{ApplyDelay: 20 * time.Millisecond}, nil)
	defer r.Close()

	rec, err := r.Analyze(context.Background(), AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: 0})
	require.NoError(t, err)
	require.NotZero(t, rec.ApplyAfterMs)

	assert.True(t, r.Cancel("v1", "u1"))
	assert.False(t, r.Cancel("v1", "u1"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, DefaultSpeed, r.Applied("v1", "u1"))
}

func TestSetApplied_ClampsAndCancels(t *testing.T) {
	r := New(seqScorer(0), nil, Config{ApplyDelay: 20 * time.Millisecond}, nil)
	defer r.Close()

	_, err := r.Analyze(context.Background(), AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: 0})
	require.NoError(t, err)
	assert.Equal(t, MaxSpeed, r.SetApplied("v1", "u1", 3))
	assert.False(t, r.Pending("v1", "u1"))
}

func TestAnalyze_ScorerUnavailableFallsBack(t *testing.T) {
	r := New(seqScorer(0.2, 0.5, 0.8, -1), nil, Config{ApplyDelay: time.Hour}, nil)
	defer r.Close()
	ctx := context.Background()

	var prev *models.SpeedRecommendation
	for i := 0; i < 3; i++ {
		rec, err := r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: float64(i * 10)})
		require.NoError(t, err)
		require.NotNil(t, rec)
		prev = rec
	}

	rec, err := r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: 30})
	require.NoError(t, err, "scorer failure must not propagate")
	require.NotNil(t, rec)
	assert.Equal(t, prev.RecommendedSpeed, rec.RecommendedSpeed)
	assert.Equal(t, prev.Confidence, rec.Confidence)
	assert.Equal(t, prev.Reasoning, rec.Reasoning)
	assert.Equal(t, prev.TimeCode, rec.TimeCode)
}

func TestAnalyze_FallbackWithoutHistory(t *testing.T) {
	r := New(seqScorer(-1), nil, Config{}, nil)
	defer r.Close()

	rec, err := r.Analyze(context.Background(), AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: 3})
	require.NoError(t, err)
	assert.Equal(t, DefaultSpeed, rec.RecommendedSpeed)
	assert.Zero(t, rec.Confidence)
	assert.Zero(t, rec.ApplyAfterMs)
	assert.False(t, r.Pending("v1", "u1"))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestPrune_DropsIdleViewers(t *testing.T) {
	r := New(seqScorer(0, 0, 1), nil, Config{ApplyDelay: time.Hour, IdleTTL: time.Minute}, nil)
	defer r.Close()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return now })
	ctx := context.Background()

	rec, err := r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "idle", TimeCode: 0})
	require.NoError(t, err)
	assert.Equal(t, now, rec.ProducedAt, "produced on the injected clock")
	require.True(t, r.Pending("v1", "idle"))
	r.SetApplied("v1", "idle", 1.75)

	_, err = r.Analyze(ctx, AnalyzeRequest{VideoID: "v1", UserID: "busy", TimeCode: 0})
	require.NoError(t, err)
	require.True(t, r.Pending("v1", "busy"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, r.Prune(now), "a pending change keeps its viewer")
	assert.Equal(t, DefaultSpeed, r.Applied("v1", "idle"), "state is gone")
	assert.True(t, r.Pending("v1", "busy"))

	assert.Zero(t, r.Prune(now.Add(-time.Second)))
}

func TestForget_DropsViewerState(t *testing.T) {
	r := New(seqScorer(0), nil, Config{ApplyDelay: time.Hour}, nil)
	defer r.Close()

	_, err := r.Analyze(context.Background(), AnalyzeRequest{VideoID: "v1", UserID: "u1", TimeCode: 0})
	require.NoError(t, err)
	require.True(t, r.Pending("v1", "u1"))

	assert.True(t, r.Forget("v1", "u1"))
	assert.False(t, r.Pending("v1", "u1"))
	_, ok := r.Latest("v1", "u1")
	assert.False(t, ok)
	assert.False(t, r.Forget("v1", "u1"))

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.viewers)
}
