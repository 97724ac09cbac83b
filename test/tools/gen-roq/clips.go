package main

import (
	"github.com/zsiec/roqd/internal/roqtest"
)

const (
	clipWidth   = 128
	clipHeight  = 96
	sampleRate  = 22050
	frameRate   = 30
	samplesPerF = sampleRate / frameRate
	bars        = 8
	barWidth    = clipWidth / bars
)

// palette returns 256 codebook cells: a luma ramp with chroma varying by
// index, and uniform quad-cells so quad q paints cell q everywhere.
func palette() ([]roqtest.Cell, [][4]byte) {
	cells := make([]roqtest.Cell, 256)
	quads := make([][4]byte, 256)
	for i := range cells {
		y := byte(16 + i*219/255)
		cells[i] = roqtest.Cell{
			Y: [4]byte{y, y, y, y},
			U: byte(128 + (i%16-8)*12),
			V: byte(128 + (i/16-8)*12),
		}
		quads[i] = [4]byte{byte(i), byte(i), byte(i), byte(i)}
	}
	return cells, quads
}

// barColor is the palette index of bar n.
func barColor(n int) byte {
	return byte((n % bars) * 255 / (bars - 1))
}

// eachBlock visits 8x8 blocks in decode order: macroblocks in raster order,
// quadrants top-left, top-right, bottom-left, bottom-right.
func eachBlock(fn func(x, y int)) {
	for my := 0; my < clipHeight; my += 16 {
		for mx := 0; mx < clipWidth; mx += 16 {
			for i := 0; i < 4; i++ {
				fn(mx+(i&1)*8, my+(i>>1)*8)
			}
		}
	}
}

func barsFrame(shift int) []byte {
	var w roqtest.VQWriter
	eachBlock(func(x, _ int) {
		w.Op(roqtest.SLD).Byte(barColor(x/barWidth + shift))
	})
	return w.Bytes()
}

// scrollFrame moves the picture one pixel left with FCC and repaints the
// rightmost column, whose source would fall outside the picture.
func scrollFrame(frame int) []byte {
	var w roqtest.VQWriter
	eachBlock(func(x, _ int) {
		if x+8 >= clipWidth {
			w.Op(roqtest.SLD).Byte(barColor((x + frame) / barWidth))
			return
		}
		// source x = x + 8 - 7 = x + 1, source y = y + 8 - 8 = y
		w.Op(roqtest.FCC).Byte(0x78)
	})
	return w.Bytes()
}

// checkerFrame subdivides every block and alternates 4x4 sub-blocks between
// two quad-cells, with CCC sub-blocks drawing 2x2 detail.
func checkerFrame(frame int) []byte {
	var w roqtest.VQWriter
	a, b := barColor(frame), barColor(frame+bars/2)
	eachBlock(func(x, y int) {
		w.Op(roqtest.CCC)
		for i := 0; i < 4; i++ {
			switch (x/8 + y/8 + i) % 3 {
			case 0:
				w.Op(roqtest.SLD).Byte(a)
			case 1:
				w.Op(roqtest.SLD).Byte(b)
			default:
				w.Op(roqtest.CCC).Byte(a, b, b, a)
			}
		}
	})
	return w.Bytes()
}

// holdFrame repeats the previous picture with explicit MOT opcodes.
func holdFrame() []byte {
	var w roqtest.VQWriter
	eachBlock(func(int, int) { w.Op(roqtest.MOT) })
	return w.Bytes()
}

type clip struct {
	Key         string
	Description string
	Frames      int
	Channels    int
	// Freqs are the tone frequencies, left then right.
	Freqs    [2]float64
	Compress bool
	video    func(frame int) []byte
}

var clips = []clip{
	{
		Key: "bars", Description: "static colour bars, MOT holds, mono 440 Hz",
		Frames: 90, Channels: 1, Freqs: [2]float64{440},
		video: func(f int) []byte {
			if f == 0 {
				return barsFrame(0)
			}
			if f%2 == 0 {
				return nil
			}
			return holdFrame()
		},
	},
	{
		Key: "scroll", Description: "FCC one-pixel pan, stereo 330/660 Hz",
		Frames: 150, Channels: 2, Freqs: [2]float64{330, 660},
		video: func(f int) []byte {
			if f == 0 {
				return barsFrame(0)
			}
			return scrollFrame(f)
		},
	},
	{
		Key: "checker", Description: "CCC subdivision every frame, silent, zstd",
		Frames: 60, Compress: true,
		video: checkerFrame,
	},
	{
		Key: "cycle", Description: "SLD bar cycle, stereo 220/440 Hz, zstd",
		Frames: 120, Channels: 2, Freqs: [2]float64{220, 440}, Compress: true,
		video: barsFrame,
	},
}

// build renders c as a complete RoQ stream. Each frame is preceded by its
// audio chunk, as RoQ encoders interleave them. Predictors start at zero, so
// every sound chunk carries a zero seed.
func (c clip) build() []byte {
	b := roqtest.NewBuilder().Info(clipWidth, clipHeight)
	b.Codebook(palette())

	var left, right dpcmEncoder
	for f := 0; f < c.Frames; f++ {
		start := f * samplesPerF
		switch c.Channels {
		case 1:
			deltas := make([]byte, samplesPerF)
			for i, s := range tone(start, samplesPerF, c.Freqs[0], sampleRate, 8000) {
				deltas[i] = left.encode(s)
			}
			b.Mono(0, deltas)
		case 2:
			l := tone(start, samplesPerF, c.Freqs[0], sampleRate, 6000)
			r := tone(start, samplesPerF, c.Freqs[1], sampleRate, 6000)
			deltas := make([]byte, 0, 2*samplesPerF)
			for i := range l {
				deltas = append(deltas, left.encode(l[i]), right.encode(r[i]))
			}
			b.Stereo(0, 0, deltas)
		}
		b.VQ(0, 0, c.video(f))
	}
	return b.Bytes()
}
