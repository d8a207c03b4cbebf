package audio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureRingKeepsNewestSamplesInOrder(t *testing.T) {
	c := &Capture{buffer: make([]float32, 4), channels: 1}

	_, ok := c.Samples(nil)
	assert.False(t, ok, "no samples before the first callback")

	c.process([]float32{1, 2, 3})
	c.process([]float32{4, 5})
	got, ok := c.Samples(nil)
	require.True(t, ok)
	assert.Equal(t, []float32{2, 3, 4, 5}, got)

	c.process([]float32{6, 7, 8, 9, 10})
	got, _ = c.Samples(got)
	assert.Equal(t, []float32{7, 8, 9, 10}, got)
}

func TestCaptureMixesChannelsToMono(t *testing.T) {
	c := &Capture{buffer: make([]float32, 2), channels: 2}
	c.process([]float32{1, 3, -1, 1})
	got, ok := c.Samples(nil)
	require.True(t, ok)
	assert.Equal(t, []float32{2, 0}, got)
}

func TestCaptureCloseWithoutStream(t *testing.T) {
	c := &Capture{}
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestSyntheticProducesBinsOnlyWhenStarted(t *testing.T) {
	s := NewSynthetic(64, 0)
	_, ok := s.FrequencyData(nil)
	assert.False(t, ok)

	require.NoError(t, s.Start(context.Background()))
	bins, ok := s.FrequencyData(nil)
	require.True(t, ok)
	assert.Len(t, bins, 64)

	nonZero := 0
	for _, b := range bins {
		if b > 0 {
			nonZero++
		}
	}
	assert.Positive(t, nonZero)

	require.NoError(t, s.Close())
	_, ok = s.FrequencyData(bins)
	assert.False(t, ok)
}

func TestMicrophoneClosedReportsNoData(t *testing.T) {
	m := NewMicrophone(Config{}, nil, nil)
	bins, ok := m.FrequencyData(nil)
	assert.False(t, ok)
	assert.Empty(t, bins)
	assert.Equal(t, "", m.DeviceName())
	assert.NoError(t, m.Close())
}

func TestScoreInputPrefersMicrophonesOverLoopback(t *testing.T) {
	mic := scoreInput("USB Microphone", 1, false)
	monitor := scoreInput("Monitor of Built-in Audio", 2, false)
	plain := scoreInput("hw:1,0", 2, false)
	def := scoreInput("hw:1,0", 2, true)

	assert.Greater(t, mic, plain)
	assert.Less(t, monitor, plain)
	assert.Greater(t, def, mic)
	assert.Equal(t, scoreInput("x", 2, false), scoreInput("x", 8, false), "channel bonus is capped")
}

func TestRankDevicesOrdersByScoreThenName(t *testing.T) {
	devices := []Device{
		{Name: "b", Score: 5},
		{Name: "Loopback", Score: -30},
		{Name: "A", Score: 5},
		{Name: "mic", Score: 70},
	}
	rankDevices(devices)
	var names []string
	for _, d := range devices {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"mic", "A", "b", "Loopback"}, names)
}

func TestInitializeIsReferenceCounted(t *testing.T) {
	inits, terms := 0, 0
	fail := errors.New("no host")
	var initErr error
	origInit, origTerm := paInitialize, paTerminate
	paInitialize = func() error {
		if initErr != nil {
			return initErr
		}
		inits++
		return nil
	}
	paTerminate = func() error { terms++; return nil }
	t.Cleanup(func() { paInitialize, paTerminate = origInit, origTerm })

	initErr = fail
	assert.ErrorIs(t, Initialize(), fail)
	Terminate()
	assert.Zero(t, terms, "failed init holds no reference")

	initErr = nil
	require.NoError(t, Initialize())
	require.NoError(t, Initialize())
	assert.Equal(t, 1, inits)
	Terminate()
	assert.Zero(t, terms)
	Terminate()
	assert.Equal(t, 1, terms)

	require.NoError(t, Initialize())
	assert.Equal(t, 2, inits, "released library initialises again")
	Terminate()
	assert.Equal(t, 2, terms)
}
