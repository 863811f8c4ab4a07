package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("submit control: %w", New(KindForbidden, "no_control", "You do not have control"))

	assert.True(t, errors.Is(err, ErrForbidden))
	assert.True(t, errors.Is(err, &Error{Kind: KindForbidden, Code: "no_control"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindForbidden, Code: "not_host"}))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		code string
		msg  string
	}{
		{"typed", New(KindConflict, "session_ended", "session has ended"), KindConflict, "session_ended", "session has ended"},
		{"wrapped", fmt.Errorf("x: %w", New(KindNotFound, "annotation_not_found", "annotation not found")), KindNotFound, "annotation_not_found", "annotation not found"},
		{"plain", errors.New("boom"), KindInternal, "internal", "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.code, CodeOf(tt.err))
			assert.Equal(t, tt.msg, MessageOf(tt.err))
		})
	}
}
