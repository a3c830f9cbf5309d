package audio_test

import (
	"errors"
	"testing"

	"github.com/tandemvoice/tandem/pkg/audio"
)

func TestLevelMeter_ZeroValue(t *testing.T) {
	var m audio.LevelMeter
	level, err := m.Level()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level != 0 {
		t.Errorf("fresh meter level = %f, want 0", level)
	}
}

func TestLevelMeter_ObserveUpdatesLevel(t *testing.T) {
	var m audio.LevelMeter

	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = 16384
	}
	m.Observe(audio.AudioFrame{Data: pcm16(samples...), SampleRate: 16000, Channels: 1})

	level, err := m.Level()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level < 0.49 || level > 0.51 {
		t.Errorf("level = %f, want ~0.5", level)
	}

	// A quieter frame replaces the previous reading.
	m.Observe(audio.AudioFrame{Data: pcm16(make([]int16, 160)...)})
	if level, _ = m.Level(); level != 0 {
		t.Errorf("level after silent frame = %f, want 0", level)
	}
}

func TestLevelMeter_FailIsSticky(t *testing.T) {
	var m audio.LevelMeter
	first := errors.New("capture torn down")

	m.Fail(first)
	m.Fail(errors.New("should be ignored"))

	_, err := m.Level()
	if !errors.Is(err, first) {
		t.Errorf("Level error = %v, want %v", err, first)
	}
}

func TestLevelMeter_FailNilMapsToUnavailable(t *testing.T) {
	var m audio.LevelMeter
	m.Fail(nil)

	_, err := m.Level()
	if !errors.Is(err, audio.ErrUnavailable) {
		t.Errorf("Level error = %v, want ErrUnavailable", err)
	}
}

func TestLevelMeter_ResetRevivesFailedMeter(t *testing.T) {
	var m audio.LevelMeter
	m.Observe(audio.AudioFrame{Data: pcm16(16384, 16384)})
	m.Fail(errors.New("stream ended"))

	m.Reset()

	level, err := m.Level()
	if err != nil {
		t.Fatalf("Level after Reset: %v", err)
	}
	if level != 0 {
		t.Errorf("level after Reset = %f, want 0", level)
	}

	// The revived meter accepts failures again.
	m.Fail(nil)
	if _, err := m.Level(); !errors.Is(err, audio.ErrUnavailable) {
		t.Errorf("Level error = %v, want ErrUnavailable", err)
	}
}
