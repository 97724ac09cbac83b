package main

import (
	"math"

	"github.com/zsiec/roqd/internal/roq"
)

// dpcmEncoder turns target samples into RoQ DPCM delta bytes, tracking the
// predictor the decoder will hold.
type dpcmEncoder struct {
	pred int32
}

// encode returns the delta byte whose reconstruction lands closest to target
// and advances the predictor.
func (e *dpcmEncoder) encode(target int32) byte {
	diff := target - e.pred
	mag := int32(math.Sqrt(math.Abs(float64(diff))))
	best, bestErr := byte(0), int32(math.MaxInt32)
	for _, m := range []int32{mag, mag + 1} {
		if m > 127 {
			m = 127
		}
		b := byte(m)
		if diff < 0 {
			b |= 0x80
		}
		got := e.pred + roq.Delta(b)
		if err := abs(got - target); err < bestErr {
			best, bestErr = b, err
		}
	}
	e.pred += roq.Delta(best)
	return best
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// tone generates n samples of a sine at freq Hz, continuing from sample
// index start.
func tone(start, n int, freq float64, sampleRate int, amplitude float64) []int32 {
	out := make([]int32, n)
	for i := range out {
		t := float64(start+i) / float64(sampleRate)
		out[i] = int32(amplitude * math.Sin(2*math.Pi*freq*t))
	}
	return out
}
