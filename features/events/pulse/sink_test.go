package pulse_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	eventspulse "goa.design/weave/features/events/pulse"
)

func TestNewRequiresRedis(t *testing.T) {
	_, err := eventspulse.New(eventspulse.Options{})
	require.Error(t, err)
}
