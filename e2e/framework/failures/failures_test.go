package failures

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(StepFailure, "click", nil))
}

func TestKindOf(t *testing.T) {
	base := Wrap(SessionFailure, "open scenario", fmt.Errorf("launch failed"))

	tests := []struct {
		name string
		err  error
		kind Kind
		ok   bool
	}{
		{name: "direct", err: base, kind: SessionFailure, ok: true},
		{name: "pkg errors wrap", err: errors.Wrap(base, "scenario one"), kind: SessionFailure, ok: true},
		{name: "fmt wrap", err: fmt.Errorf("outer: %w", base), kind: SessionFailure, ok: true},
		{name: "unclassified", err: errors.New("boom"), ok: false},
		{name: "nil", err: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindOf(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(CaptureFailure, "screenshot", "page %s closed", "p1")
	require.Error(t, err)
	assert.Equal(t, "CaptureFailure: screenshot: page p1 closed", err.Error())
	assert.True(t, Is(err, CaptureFailure))
	assert.False(t, Is(err, StepFailure))
}
