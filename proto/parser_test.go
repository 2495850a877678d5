package proto

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const streamFixture = "E4_Acc 123345627891,123 51 -2 -10\n" +
	"R device_subscribe acc OK\n" +
	"E4_Bvp 123345627891,456 31,79\n" +
	"\n" +
	"E4_Tag 123345627892,100\n" +
	"E4_Temperature 123345627893.1 33.25\n"

func TestParserFeedWholeBuffer(t *testing.T) {
	p := NewParser()
	lines := p.Feed([]byte(streamFixture))
	require.Len(t, lines, 6)
	assert.Equal(t, "E4_Acc 123345627891,123 51 -2 -10", lines[0])
	assert.Equal(t, "", lines[3])
	assert.Empty(t, p.Pending())
}

func TestParserCarriesPartialLine(t *testing.T) {
	p := NewParser()
	assert.Nil(t, p.Feed([]byte("E4_Bvp 12,5")))
	assert.Equal(t, "E4_Bvp 12,5", p.Pending())

	lines := p.Feed([]byte("0 31,79\nE4_Gsr 1"))
	assert.Equal(t, []string{"E4_Bvp 12,50 31,79"}, lines)
	assert.Equal(t, "E4_Gsr 1", p.Pending())

	p.Reset()
	assert.Empty(t, p.Pending())
}

func TestParserChunkBoundaryIndependence(t *testing.T) {
	want := NewParser().Feed([]byte(streamFixture))

	// every single split point
	for i := 0; i <= len(streamFixture); i++ {
		p := NewParser()
		got := append(p.Feed([]byte(streamFixture[:i])), p.Feed([]byte(streamFixture[i:]))...)
		require.Equal(t, want, got, "split at %d", i)
	}

	// random chunkings
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		p := NewParser()
		var got []string
		for rest := streamFixture; len(rest) > 0; {
			n := 1 + rng.Intn(12)
			if n > len(rest) {
				n = len(rest)
			}
			got = append(got, p.Feed([]byte(rest[:n]))...)
			rest = rest[n:]
		}
		require.Equal(t, want, got, "round %d", round)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, LineAck, Classify("R pause ON"))
	assert.Equal(t, LineAck, Classify("R device_subscribe BVP FAIL"))
	assert.Equal(t, LineData, Classify("E4_Bvp 1 2"))
	assert.Equal(t, LineEmpty, Classify(""))
	assert.Equal(t, LineEmpty, Classify("\r"))
}

func TestAckLinesNeverDecodeAsSamples(t *testing.T) {
	p := NewParser()
	var samples []Sample
	for _, line := range p.Feed([]byte(streamFixture)) {
		if Classify(line) != LineData {
			continue
		}
		s, err := p.Decode(line)
		require.NoError(t, err)
		samples = append(samples, s)
	}
	require.Len(t, samples, 4)
	for _, s := range samples {
		assert.NotEqual(t, byte('R'), s.Stream[0])
	}
}

func TestDecodeDecimalSeparators(t *testing.T) {
	comma, err := DecodeData("E4_Gsr 1495437325,123 0,4321")
	require.NoError(t, err)
	period, err := DecodeData("E4_Gsr 1495437325.123 0.4321")
	require.NoError(t, err)

	assert.Equal(t, period, comma)
	assert.InDelta(t, 1495437325.123, comma.Timestamp, 1e-6)
	assert.InDelta(t, 0.4321, comma.Value(), 1e-9)
	assert.False(t, comma.IsVector())
}

func TestDecodeAccelerometer(t *testing.T) {
	s, err := DecodeData("E4_Acc 12,5 51 -2 -10")
	require.NoError(t, err)
	assert.Equal(t, StreamAcc, s.Stream)
	assert.Equal(t, []float64{51, -2, -10}, s.Values)
	assert.True(t, s.IsVector())

	_, err = DecodeData("E4_Acc 12,5 51 -2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedSample))

	var mse *MalformedSampleError
	require.ErrorAs(t, err, &mse)
	assert.Equal(t, "E4_Acc 12,5 51 -2", mse.Line)
}

func TestDecodeTag(t *testing.T) {
	s, err := DecodeData("E4_Tag 12,50")
	require.NoError(t, err)
	assert.True(t, s.IsTag())
	assert.Equal(t, 12.50, s.Timestamp)
	assert.Empty(t, s.Values)
	assert.Zero(t, s.Value())
}

func TestDecodeMalformed(t *testing.T) {
	for _, line := range []string{
		"E4_Bvp",
		"E4_Bvp abc 1",
		"E4_Bvp 12,5",
		"E4_Bvp 12,5 x",
		"E4_Bvp 12,5,3 1",
	} {
		_, err := DecodeData(line)
		assert.ErrorIs(t, err, ErrMalformedSample, line)
	}
}

func TestDecodeRejectsNonFiniteAndHex(t *testing.T) {
	for _, line := range []string{
		"E4_Bvp nan 1",
		"E4_Bvp 1 NaN",
		"E4_Bvp 1 inf",
		"E4_Bvp 1 -Infinity",
		"E4_Bvp 1 0x1p3",
		"E4_Bvp 1 1e400",
	} {
		_, err := DecodeData(line)
		assert.ErrorIs(t, err, ErrMalformedSample, line)
	}

	s, err := DecodeData("E4_Bvp 1 -1,5e2")
	require.NoError(t, err)
	assert.Equal(t, -150.0, s.Value())
}

func TestDecodeIgnoresExtraTokens(t *testing.T) {
	s, err := DecodeData("E4_Hr 10 72 99")
	require.NoError(t, err)
	assert.Equal(t, []float64{72}, s.Values)
}

func TestParserWithArity(t *testing.T) {
	p := NewParser(WithArity("E4_Custom", 2))
	s, err := p.Decode("E4_Custom 1 2,5 3")
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 3}, s.Values)

	assert.Equal(t, 3, Arity(StreamAcc))
	assert.Equal(t, 0, Arity(StreamTag))
	assert.Equal(t, DefaultArity, Arity("E4_Custom"))
}
