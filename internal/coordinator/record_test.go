package coordinator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeathPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    DeathPolicy
		wantErr bool
	}{
		{in: "", want: Permanent},
		{in: "permanent", want: Permanent},
		{in: "temporary", want: Temporary},
		{in: "Temporary", wantErr: true},
		{in: "transient", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDeathPolicy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOption)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentityFor(t *testing.T) {
	assert.Equal(t, "n1@10.0.0.2", IdentityFor("n1", "10.0.0.2"))
}

func TestUnexpectedNodeFailureError(t *testing.T) {
	err := fmt.Errorf("run: %w", &UnexpectedNodeFailureError{NodeID: "n1", Identity: "n1@host", Reason: "exit status 2"})

	assert.True(t, errors.Is(err, ErrUnexpectedNodeFailure))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), `"n1"`)
	assert.Contains(t, err.Error(), "n1@host")
	assert.Contains(t, err.Error(), "exit status 2")
}
