package actuator

import (
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestActuator() (*Actuator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(DefaultConfig(), slog.Default(), WithClock(clock.Now)), clock
}

func TestStep_SeedsFromDeviceAndSlews(t *testing.T) {
	a, _ := newTestActuator()
	p := model.ProfileFor(model.ProfileBalanced) // 34..92, step 10

	applied, target := a.Step(80, 40, p)
	assert.Equal(t, 80, target)
	assert.Equal(t, 50, applied)

	applied, _ = a.Step(80, 50, p)
	assert.Equal(t, 60, applied)
	applied, _ = a.Step(80, 60, p)
	assert.Equal(t, 70, applied)
	applied, _ = a.Step(80, 70, p)
	assert.Equal(t, 80, applied)
	applied, _ = a.Step(80, 80, p)
	assert.Equal(t, 80, applied)
}

func TestStep_DeadbandHoldsSmallErrors(t *testing.T) {
	a, _ := newTestActuator()
	p := model.ProfileFor(model.ProfileBalanced)

	a.Step(60, 60, p)
	applied, _ := a.Step(61, 60, p)
	assert.Equal(t, 60, applied, "error of 1 is inside the deadband")
	applied, _ = a.Step(62, 60, p)
	assert.Equal(t, 62, applied)
}

func TestStep_SeedIsClampedToProfile(t *testing.T) {
	a, _ := newTestActuator()
	p := model.ProfileFor(model.ProfileQuiet) // 28..82

	applied, _ := a.Step(30, 100, p)
	assert.Equal(t, 75, applied, "seed 82 then one step of 7 down")

	a.Reset()
	applied, target := a.Step(0, 0, p)
	assert.Equal(t, 28, target)
	assert.Equal(t, 28, applied)
}

func TestStep_BoundedPropertyUnderRandomInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, name := range model.ProfileNames() {
		p := model.ProfileFor(name)
		a, _ := newTestActuator()
		prev, _ := a.Step(rng.Intn(141)-20, rng.Intn(101), p)
		for i := 0; i < 500; i++ {
			applied, target := a.Step(rng.Intn(141)-20, rng.Intn(101), p)
			require.GreaterOrEqual(t, applied, p.MinDuty)
			require.LessOrEqual(t, applied, p.MaxDuty)
			require.GreaterOrEqual(t, target, p.MinDuty)
			require.LessOrEqual(t, target, p.MaxDuty)
			require.LessOrEqual(t, abs(applied-prev), p.StepLimit)
			prev = applied
		}
	}
}

func TestShouldPush(t *testing.T) {
	a, clock := newTestActuator()
	p := model.ProfileFor(model.ProfileBalanced)

	assert.False(t, a.ShouldPush(50), "nothing applied yet")

	a.Step(80, 50, p) // applied 60
	assert.True(t, a.ShouldPush(50))
	assert.False(t, a.ShouldPush(59), "within deadband of the device")

	a.MarkPush()
	clock.Advance(2 * time.Second)
	assert.False(t, a.ShouldPush(50), "push interval not elapsed")

	clock.Advance(time.Second)
	assert.True(t, a.ShouldPush(50))
}

func TestManualAllowed_IndependentGate(t *testing.T) {
	a, clock := newTestActuator()

	assert.True(t, a.ManualAllowed())
	assert.False(t, a.ManualAllowed())

	clock.Advance(100 * time.Millisecond)
	assert.False(t, a.ManualAllowed())

	clock.Advance(150 * time.Millisecond)
	assert.True(t, a.ManualAllowed())

	a.MarkPush()
	clock.Advance(250 * time.Millisecond)
	assert.True(t, a.ManualAllowed(), "automatic pushes do not consume the manual gate")
}

func TestReset_ClearsState(t *testing.T) {
	a, _ := newTestActuator()
	p := model.ProfileFor(model.ProfileAggressive)

	a.Step(90, 40, p)
	a.MarkPush()
	require.True(t, a.State().Seeded)

	a.Reset()
	st := a.State()
	assert.False(t, st.Seeded)
	assert.Zero(t, st.Applied)
	assert.True(t, st.LastPush.IsZero())
	assert.False(t, a.ShouldPush(10))
}
