package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval_ValidUnits(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"1.5h", 90 * time.Minute},
		{"1d", 24 * time.Hour},
		{"2 m", 2 * time.Minute},
		{"0.5s", 500 * time.Millisecond},
	}

	for _, tc := range cases {
		got, err := ParseInterval(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseInterval_Invalid(t *testing.T) {
	cases := []string{"", "5", "m5", "-5m", "5x", "five minutes", "5mm"}

	for _, in := range cases {
		_, err := ParseInterval(in)
		assert.Error(t, err, in)
	}
}

func TestRunner_NonLeaseTickRunsHandlerWithoutDB(t *testing.T) {
	r := New(nil, nil, "holder-1", 0, nil)

	var calls int32

	r.tick(context.Background(), Spec{
		ID:            "noop",
		LeaseRequired: false,
		Handler: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})

	assert.EqualValues(t, 1, calls)
}

func TestRunner_HandlerErrorDoesNotPanic(t *testing.T) {
	r := New(nil, nil, "holder-1", 0, nil)

	assert.NotPanics(t, func() {
		r.tick(context.Background(), Spec{
			ID:            "failing",
			LeaseRequired: false,
			Handler: func(ctx context.Context) error {
				return assert.AnError
			},
		})
	})
}

func TestRunner_RegisterAccumulatesSpecs(t *testing.T) {
	r := New(nil, nil, "holder-1", 0, nil)

	r.Register(Spec{ID: "a", Interval: time.Second})
	r.Register(Spec{ID: "b", Interval: time.Minute})

	assert.Len(t, r.specs, 2)
	assert.Equal(t, "a", r.specs[0].ID)
	assert.Equal(t, "b", r.specs[1].ID)
}

func TestRegister_DerivesLeaseDurationFromInterval(t *testing.T) {
	r := New(nil, nil, "holder-1", 0, nil)

	r.Register(Spec{ID: "a", Interval: 30 * time.Second})
	assert.Equal(t, time.Minute, r.specs[0].LeaseDuration)

	r.Register(Spec{ID: "b", Interval: time.Hour})
	assert.Equal(t, 2*time.Hour, r.specs[1].LeaseDuration)
}

func TestRegister_KeepsExplicitLeaseDuration(t *testing.T) {
	r := New(nil, nil, "holder-1", 0, nil)

	r.Register(Spec{ID: "a", Interval: time.Minute, LeaseDuration: 15 * time.Minute})
	assert.Equal(t, 15*time.Minute, r.specs[0].LeaseDuration)
}

func TestRegister_RunnerWideOverrideWins(t *testing.T) {
	r := New(nil, nil, "holder-1", 10*time.Minute, nil)

	r.Register(Spec{ID: "a", Interval: 30 * time.Second})
	assert.Equal(t, 10*time.Minute, r.specs[0].LeaseDuration)
}

func TestRegister_FallsBackWithoutInterval(t *testing.T) {
	r := New(nil, nil, "holder-1", 0, nil)

	r.Register(Spec{ID: "a"})
	assert.Equal(t, DefaultLeaseDuration, r.specs[0].LeaseDuration)
}
