package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/evcentral/internal/apperr"
)

func TestBalanceDefaultsToZero(t *testing.T) {
	w := New()
	assert.Equal(t, 0.0, w.Balance("VID:0000000001"))
}

func TestTopUpThenDeduct(t *testing.T) {
	w := New()
	got := w.TopUp("VID:0000000001", 10)
	assert.Equal(t, 10.0, got)

	got, err := w.Deduct("VID:0000000001", 4)
	require.NoError(t, err)
	assert.Equal(t, 6.0, got)
}

func TestDeductFailsAtomicallyWhenInsufficient(t *testing.T) {
	w := New()
	w.TopUp("VID:0000000001", 5)

	_, err := w.Deduct("VID:0000000001", 10)
	require.ErrorIs(t, err, apperr.InsufficientFunds)
	assert.Equal(t, 5.0, w.Balance("VID:0000000001"))
}

func TestBalanceNeverNegative(t *testing.T) {
	w := New()
	_, err := w.Deduct("VID:0000000001", 0.01)
	require.ErrorIs(t, err, apperr.InsufficientFunds)
	assert.Equal(t, 0.0, w.Balance("VID:0000000001"))
}
