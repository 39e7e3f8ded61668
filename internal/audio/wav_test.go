package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndParseWAV(t *testing.T) {
	in := []int16{0, 100, -100, 32767, -32768, 7}
	wav := BuildWAV(in, SampleRate, Channels)
	out, err := ParseWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	_, err := ParseWAV([]byte("definitely not audio"))
	assert.Error(t, err)
}

func TestParseWAVRejectsNonPCM(t *testing.T) {
	wav := BuildWAV([]int16{1, 2, 3}, SampleRate, Channels)
	// flip the format tag inside the fmt chunk to something non-PCM
	wav[20] = 3
	_, err := ParseWAV(wav)
	assert.Error(t, err)
}

func TestToneLengthAndBounds(t *testing.T) {
	tone := Tone(880, 100, 0.3)
	require.Len(t, tone, SampleRate/10)
	for _, s := range tone {
		if s > 11000 || s < -11000 {
			t.Fatalf("sample %d exceeds requested amplitude", s)
		}
	}
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0, RMS(nil))
	assert.Equal(t, 0, RMS(make([]int16, 960)))

	loud := make([]int16, 960)
	for i := range loud {
		loud[i] = 1000
	}
	assert.Equal(t, 1000, RMS(loud))
}
