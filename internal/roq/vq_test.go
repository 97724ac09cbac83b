package roq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/roqd/internal/roqtest"
)

var testCells = []roqtest.Cell{
	{Y: [4]byte{10, 11, 12, 13}, U: 100, V: 200},
	{Y: [4]byte{20, 21, 22, 23}, U: 101, V: 201},
	{Y: [4]byte{30, 31, 32, 33}, U: 102, V: 202},
	{Y: [4]byte{40, 41, 42, 43}, U: 103, V: 203},
}

func testCodebook(t *testing.T) *Codebook {
	t.Helper()
	var cb Codebook
	quads := [][4]byte{{0, 1, 2, 3}, {3, 3, 3, 3}}
	_, err := cb.Load(roqtest.CodebookPayload(testCells, quads), roqtest.CodebookArg(len(testCells), len(quads)))
	require.NoError(t, err)
	return &cb
}

// testGenerations returns a previous generation filled with a position
// dependent pattern and a current generation filled with a constant, so
// copies from previous are distinguishable from untouched pixels.
func testGenerations(t *testing.T, width, height int) (prev, cur *Planes) {
	t.Helper()
	b, err := NewPlaneBuffers(width, height)
	require.NoError(t, err)
	prev, cur = b.Previous(), b.Current()
	for _, p := range []*Plane{&prev.Y, &prev.U, &prev.V} {
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				p.Set(x, y, uint8(x*7+y*13))
			}
		}
	}
	for _, p := range []*Plane{&cur.Y, &cur.U, &cur.V} {
		p.fill(0, 0, p.Width, p.Height, 0xEE)
	}
	return prev, cur
}

func assertBlockEqual(t *testing.T, dst *Plane, dx, dy int, src *Plane, sx, sy, size int) {
	t.Helper()
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			require.Equal(t, src.At(sx+x, sy+y), dst.At(dx+x, dy+y), "pixel (%d,%d)", dx+x, dy+y)
		}
	}
}

func TestDecodeFrameSolidSLD(t *testing.T) {
	t.Parallel()

	var cb Codebook
	_, err := cb.Load(
		roqtest.CodebookPayload([]roqtest.Cell{{Y: [4]byte{200, 200, 200, 200}, U: 128, V: 128}}, [][4]byte{{0, 0, 0, 0}}),
		roqtest.CodebookArg(1, 1))
	require.NoError(t, err)

	prev, cur := testGenerations(t, 64, 64)
	stats, err := DecodeFrame(roqtest.SolidFrame(64, 64, 0), 0, &cb, prev, cur)
	require.NoError(t, err)

	for _, v := range cur.Y.Pix {
		require.Equal(t, uint8(200), v)
	}
	for i := range cur.U.Pix {
		require.Equal(t, uint8(128), cur.U.Pix[i])
		require.Equal(t, uint8(128), cur.V.Pix[i])
	}
	assert.Equal(t, 16, stats.Macroblocks)
	assert.Equal(t, 64, stats.Ops[0][OpSLD])
	assert.Zero(t, stats.Unused)
}

func TestDecodeFrameSLDRasterOrder(t *testing.T) {
	t.Parallel()

	cb := testCodebook(t)
	prev, cur := testGenerations(t, 16, 16)

	var w roqtest.VQWriter
	w.Op(roqtest.SLD).Byte(0).Op(roqtest.MOT).Op(roqtest.MOT).Op(roqtest.MOT)
	_, err := DecodeFrame(w.Bytes(), 0, cb, prev, cur)
	require.NoError(t, err)

	for q, cell := range testCells {
		qx, qy := (q&1)*4, (q>>1)*4
		for i, v := range cell.Y {
			px, py := qx+(i&1)*2, qy+(i>>1)*2
			for _, d := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
				assert.Equal(t, v, cur.Y.At(px+d[0], py+d[1]), "cell %d sample %d", q, i)
			}
		}
		for _, d := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
			assert.Equal(t, cell.U, cur.U.At(qx/2+d[0], qy/2+d[1]))
			assert.Equal(t, cell.V, cur.V.At(qx/2+d[0], qy/2+d[1]))
		}
	}

	// The three MOT blocks carry the previous picture forward.
	assertBlockEqual(t, &cur.Y, 8, 0, &prev.Y, 8, 0, 8)
	assertBlockEqual(t, &cur.Y, 0, 8, &prev.Y, 0, 8, 8)
	assertBlockEqual(t, &cur.U, 4, 4, &prev.U, 4, 4, 4)
}

func TestDecodeFrameOpcodeBitOrder(t *testing.T) {
	t.Parallel()

	cb := testCodebook(t)
	prev, cur := testGenerations(t, 16, 16)

	// Flag word 0x8000: the top field is SLD, the other seven are MOT.
	payload := []byte{0x00, 0x80, 1}
	stats, err := DecodeFrame(payload, 0, cb, prev, cur)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Ops[0][OpSLD])
	assert.Equal(t, 3, stats.Ops[0][OpMOT])
	assert.Equal(t, uint8(40), cur.Y.At(0, 0))
	assert.Equal(t, uint8(43), cur.Y.At(7, 7))
}

func TestDecodeFrameMOTCopiesPrevious(t *testing.T) {
	t.Parallel()

	cb := testCodebook(t)
	prev, cur := testGenerations(t, 32, 32)

	var w roqtest.VQWriter
	for i := 0; i < 16; i++ {
		w.Op(roqtest.MOT)
	}
	_, err := DecodeFrame(w.Bytes(), 0, cb, prev, cur)
	require.NoError(t, err)
	assert.Equal(t, prev.Y.Pix, cur.Y.Pix)
	assert.Equal(t, prev.U.Pix, cur.U.Pix)
	assert.Equal(t, prev.V.Pix, cur.V.Pix)
}

func TestDecodeFrameZeroMotion(t *testing.T) {
	t.Parallel()

	cb := testCodebook(t)
	prev, cur := testGenerations(t, 16, 16)

	var w roqtest.VQWriter
	for i := 0; i < 4; i++ {
		w.Op(roqtest.FCC).Byte(0x88)
	}
	stats, err := DecodeFrame(w.Bytes(), 0, cb, prev, cur)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Ops[0][OpFCC])
	assert.Equal(t, prev.Y.Pix, cur.Y.Pix)
	assert.Equal(t, prev.U.Pix, cur.U.Pix)
	assert.Equal(t, prev.V.Pix, cur.V.Pix)
}

func TestDecodeFrameMotion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		mv           byte
		meanX, meanY int8
		srcX, srcY   int
	}{
		{name: "right one", mv: 0x78, srcX: 1, srcY: 0},
		{name: "down two", mv: 0x86, srcX: 0, srcY: 2},
		{name: "bias left", mv: 0x88, meanX: -3, srcX: 3, srcY: 0},
		{name: "bias cancels vector", mv: 0x68, meanX: 2, srcX: 0, srcY: 0},
		{name: "bias up from below", mv: 0x88, meanY: -5, srcX: 0, srcY: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cb := testCodebook(t)
			prev, cur := testGenerations(t, 32, 32)

			var w roqtest.VQWriter
			w.Op(roqtest.FCC).Byte(tt.mv)
			for i := 0; i < 15; i++ {
				w.Op(roqtest.MOT)
			}
			_, err := DecodeFrame(w.Bytes(), roqtest.VQArg(tt.meanX, tt.meanY), cb, prev, cur)
			require.NoError(t, err)

			assertBlockEqual(t, &cur.Y, 0, 0, &prev.Y, tt.srcX, tt.srcY, 8)
			assertBlockEqual(t, &cur.U, 0, 0, &prev.U, (tt.srcX+1)/2, tt.srcY/2, 4)
			assertBlockEqual(t, &cur.V, 0, 0, &prev.V, (tt.srcX+1)/2, tt.srcY/2, 4)
		})
	}
}

func TestDecodeFrameMotionOutOfBounds(t *testing.T) {
	t.Parallel()

	cb := testCodebook(t)
	prev, cur := testGenerations(t, 16, 16)

	var w roqtest.VQWriter
	w.Op(roqtest.FCC).Byte(0xFF)
	_, err := DecodeFrame(w.Bytes(), 0, cb, prev, cur)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeFrameSubdivided(t *testing.T) {
	t.Parallel()

	cb := testCodebook(t)
	prev, cur := testGenerations(t, 16, 16)

	var w roqtest.VQWriter
	w.Op(roqtest.CCC).
		Op(roqtest.MOT).
		Op(roqtest.FCC).Byte(0x88).
		Op(roqtest.SLD).Byte(0).
		Op(roqtest.CCC).Byte(3, 2, 1, 0).
		Op(roqtest.MOT).Op(roqtest.MOT).Op(roqtest.MOT)
	stats, err := DecodeFrame(w.Bytes(), 0, cb, prev, cur)
	require.NoError(t, err)
	assert.Equal(t, [4]int{3, 0, 0, 1}, stats.Ops[0])
	assert.Equal(t, [4]int{1, 1, 1, 1}, stats.Ops[1])
	assert.Zero(t, stats.Unused)

	assertBlockEqual(t, &cur.Y, 0, 0, &prev.Y, 0, 0, 4)
	assertBlockEqual(t, &cur.Y, 4, 0, &prev.Y, 4, 0, 4)
	assertBlockEqual(t, &cur.U, 2, 0, &prev.U, 2, 0, 2)

	// SLD at 4x4 paints cells 0..3 at native 2x2 size.
	for q, cell := range testCells {
		x, y := 0+(q&1)*2, 4+(q>>1)*2
		assert.Equal(t, cell.Y[0], cur.Y.At(x, y))
		assert.Equal(t, cell.Y[1], cur.Y.At(x+1, y))
		assert.Equal(t, cell.Y[2], cur.Y.At(x, y+1))
		assert.Equal(t, cell.Y[3], cur.Y.At(x+1, y+1))
		assert.Equal(t, cell.U, cur.U.At(x/2, y/2))
		assert.Equal(t, cell.V, cur.V.At(x/2, y/2))
	}

	// CCC at 4x4 reads four raw cell indices.
	for q, idx := range []int{3, 2, 1, 0} {
		x, y := 4+(q&1)*2, 4+(q>>1)*2
		assert.Equal(t, testCells[idx].Y[0], cur.Y.At(x, y))
		assert.Equal(t, testCells[idx].Y[3], cur.Y.At(x+1, y+1))
		assert.Equal(t, testCells[idx].U, cur.U.At(x/2, y/2))
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
	}{
		{"missing quad index", new(roqtest.VQWriter).Op(roqtest.SLD).Bytes()},
		{"missing motion byte", new(roqtest.VQWriter).Op(roqtest.FCC).Bytes()},
		{"half flag word", []byte{0x00}},
		{"missing cell indices", new(roqtest.VQWriter).Op(roqtest.CCC).Op(roqtest.CCC).Byte(0, 0).Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cb := testCodebook(t)
			prev, cur := testGenerations(t, 16, 16)
			_, err := DecodeFrame(tt.payload, 0, cb, prev, cur)
			require.ErrorIs(t, err, ErrTruncated)
		})
	}
}

func TestDecodeFrameEndsOnMacroblockBoundary(t *testing.T) {
	t.Parallel()

	cb := testCodebook(t)
	prev, cur := testGenerations(t, 32, 16)

	var w roqtest.VQWriter
	for i := 0; i < 4; i++ {
		w.Op(roqtest.SLD).Byte(1)
	}
	stats, err := DecodeFrame(w.Bytes(), 0, cb, prev, cur)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Macroblocks)
	assert.Equal(t, 1, stats.Repeated)
	assert.Equal(t, uint8(40), cur.Y.At(0, 0))
	assertBlockEqual(t, &cur.Y, 16, 0, &prev.Y, 16, 0, 16)
	assertBlockEqual(t, &cur.V, 8, 0, &prev.V, 8, 0, 8)
}

func TestDecodeFrameEmptyPayloadRepeats(t *testing.T) {
	t.Parallel()

	cb := testCodebook(t)
	prev, cur := testGenerations(t, 32, 32)

	stats, err := DecodeFrame(nil, 0, cb, prev, cur)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Repeated)
	assert.Equal(t, prev.Y.Pix, cur.Y.Pix)
}

func TestDecodeFrameIndexOutOfRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
	}{
		{"quad-cell", new(roqtest.VQWriter).Op(roqtest.SLD).Byte(9).Bytes()},
		{"cell", new(roqtest.VQWriter).Op(roqtest.CCC).Op(roqtest.CCC).Byte(0, 1, 2, 200).Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cb := testCodebook(t)
			prev, cur := testGenerations(t, 16, 16)
			_, err := DecodeFrame(tt.payload, 0, cb, prev, cur)
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestDecodeFrameSkipsPartialMacroblocks(t *testing.T) {
	t.Parallel()

	cb := testCodebook(t)
	prev, cur := testGenerations(t, 24, 20)

	stats, err := DecodeFrame(roqtest.SolidFrame(16, 16, 1), 0, cb, prev, cur)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Macroblocks)
	assert.Equal(t, uint8(43), cur.Y.At(15, 15))
	assert.Equal(t, uint8(0xEE), cur.Y.At(16, 0))
	assert.Equal(t, uint8(0xEE), cur.Y.At(0, 16))
}
