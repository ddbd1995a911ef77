package weather

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_Current(t *testing.T) {
	r, err := Simulated{}.Current(context.Background(), "  Paris ")
	require.NoError(t, err)

	assert.Equal(t, Report{
		Location:    "Paris",
		Temperature: "72°F",
		Condition:   "Sunny",
		Humidity:    "45%",
		Wind:        "5 mph",
	}, r)

	again, err := Simulated{}.Current(context.Background(), "Paris")
	require.NoError(t, err)
	assert.Equal(t, r, again)
}

func TestSimulated_EmptyLocation(t *testing.T) {
	_, err := Simulated{}.Current(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyLocation)
}
