package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryStatusCanAdvanceTo(t *testing.T) {
	cases := []struct {
		from DeliveryStatus
		to   DeliveryStatus
		want bool
	}{
		{DeliveryStatusSent, DeliveryStatusDelivered, true},
		{DeliveryStatusSent, DeliveryStatusOpened, true},
		{DeliveryStatusSent, DeliveryStatusClicked, true},
		{DeliveryStatusDelivered, DeliveryStatusOpened, true},
		{DeliveryStatusOpened, DeliveryStatusClicked, true},

		// Out-of-order callbacks never regress the ladder.
		{DeliveryStatusOpened, DeliveryStatusDelivered, false},
		{DeliveryStatusClicked, DeliveryStatusOpened, false},
		{DeliveryStatusDelivered, DeliveryStatusDelivered, false},

		// Terminal and pre-send states are off the ladder entirely.
		{DeliveryStatusPending, DeliveryStatusDelivered, false},
		{DeliveryStatusBounced, DeliveryStatusDelivered, false},
		{DeliveryStatusFailed, DeliveryStatusOpened, false},
		{DeliveryStatusSent, DeliveryStatusBounced, false},
		{DeliveryStatusSent, DeliveryStatusFailed, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.from.CanAdvanceTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestDeliveryStatusValid(t *testing.T) {
	for _, s := range []DeliveryStatus{
		DeliveryStatusPending, DeliveryStatusSent, DeliveryStatusDelivered,
		DeliveryStatusOpened, DeliveryStatusClicked, DeliveryStatusBounced,
		DeliveryStatusFailed,
	} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, DeliveryStatus("queued").Valid())
	assert.False(t, DeliveryStatus("").Valid())
}

func TestOpenDeliveryAttemptParamsValidate(t *testing.T) {
	valid := func() *OpenDeliveryAttemptParams {
		return &OpenDeliveryAttemptParams{
			JobID:     "job-1",
			Recipient: "user@example.com",
			EmailKind: "notification",
		}
	}

	require.NoError(t, valid().Validate())

	p := valid()
	p.JobID = ""
	assert.EqualError(t, p.Validate(), "job id is required")

	p = valid()
	p.Recipient = ""
	assert.EqualError(t, p.Validate(), "recipient is required")

	p = valid()
	p.EmailKind = ""
	assert.EqualError(t, p.Validate(), "email kind is required")
}
