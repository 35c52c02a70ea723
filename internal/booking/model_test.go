package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatuses(t *testing.T) {
	s, err := ParseScheduleStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, ScheduleInProgress, s)

	_, err = ParseScheduleStatus("InProgress")
	assert.ErrorIs(t, err, ErrValidation)

	b, err := ParseBookingStatus("confirmed")
	require.NoError(t, err)
	assert.Equal(t, BookingConfirmed, b)

	p, err := ParsePaymentStatus("refunded")
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, p)

	_, err = ParseChangeRequestStatus("expired")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestScheduleStatusTerminal(t *testing.T) {
	assert.True(t, ScheduleCompleted.Terminal())
	assert.True(t, ScheduleCancelled.Terminal())
	assert.False(t, ScheduleProcessing.Terminal())
	assert.False(t, SchedulePending.Terminal())
}
