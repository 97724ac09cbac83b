package roq

import "encoding/binary"

// deltaTable maps a coded audio byte to the delta added to the predictor:
// i*i for the low half and -(i-128)^2 for the high half.
var deltaTable = func() (t [256]int32) {
	for i := int32(0); i < 128; i++ {
		t[i] = i * i
		t[i+128] = -(i * i)
	}
	return t
}()

// Delta returns the predictor delta for a coded audio byte.
func Delta(b byte) int32 {
	return deltaTable[b]
}

// AudioDecoder reconstructs 16-bit PCM from SOUND chunks. Predictors are
// seeded from the chunk argument the first time each channel layout is seen
// and carried across chunks after that.
type AudioDecoder struct {
	pred         [2]int32
	monoSeeded   bool
	stereoSeeded bool
}

// Predictors returns the running predictor of each channel.
func (a *AudioDecoder) Predictors() (left, right int32) {
	return a.pred[0], a.pred[1]
}

// DecodeMono appends one little-endian sample per payload byte to dst and
// returns the extended slice.
func (a *AudioDecoder) DecodeMono(dst, payload []byte, arg uint16) []byte {
	if !a.monoSeeded {
		a.pred[0] = int32(int16(arg))
		a.monoSeeded = true
	}

	dst = grow(dst, len(payload)*2)
	p := a.pred[0]
	for _, b := range payload {
		p += deltaTable[b]
		dst = binary.LittleEndian.AppendUint16(dst, uint16(p))
	}
	a.pred[0] = p
	return dst
}

// DecodeStereo appends interleaved left/right samples to dst, one pair per
// two payload bytes. A trailing odd byte is ignored.
func (a *AudioDecoder) DecodeStereo(dst, payload []byte, arg uint16) []byte {
	if !a.stereoSeeded {
		a.pred[0] = int32(int16(arg & 0xFF00))
		a.pred[1] = int32(int16((arg & 0xFF) << 8))
		a.stereoSeeded = true
	}

	pairs := len(payload) / 2
	dst = grow(dst, pairs*4)
	l, r := a.pred[0], a.pred[1]
	for i := 0; i < pairs; i++ {
		l += deltaTable[payload[2*i]]
		r += deltaTable[payload[2*i+1]]
		dst = binary.LittleEndian.AppendUint16(dst, uint16(l))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(r))
	}
	a.pred[0], a.pred[1] = l, r
	return dst
}

func grow(b []byte, n int) []byte {
	if cap(b)-len(b) >= n {
		return b
	}
	nb := make([]byte, len(b), len(b)+n)
	copy(nb, b)
	return nb
}
