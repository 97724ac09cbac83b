package roq

// MaxDimension is the largest width or height accepted from an INFO chunk.
const MaxDimension = 4096

// Plane is one 8-bit image plane. Pixel (x, y) lives at Pix[y*Stride+x].
type Plane struct {
	Width  int
	Height int
	Stride int
	Pix    []byte
}

func newPlane(width, height int) Plane {
	return Plane{
		Width:  width,
		Height: height,
		Stride: width,
		Pix:    make([]byte, width*height),
	}
}

// At returns the sample at (x, y).
func (p *Plane) At(x, y int) uint8 {
	return p.Pix[y*p.Stride+x]
}

// Set stores v at (x, y).
func (p *Plane) Set(x, y int, v uint8) {
	p.Pix[y*p.Stride+x] = v
}

// contains reports whether the w x h block at (x, y) lies inside the plane.
func (p *Plane) contains(x, y, w, h int) bool {
	return x >= 0 && y >= 0 && x+w <= p.Width && y+h <= p.Height
}

// fill sets the w x h block at (x, y) to v.
func (p *Plane) fill(x, y, w, h int, v uint8) {
	for row := 0; row < h; row++ {
		off := (y+row)*p.Stride + x
		line := p.Pix[off : off+w]
		for i := range line {
			line[i] = v
		}
	}
}

// copyBlock copies the w x h block at (sx, sy) in src to (dx, dy) in p.
// Both blocks must be in bounds.
func (p *Plane) copyBlock(dx, dy int, src *Plane, sx, sy, w, h int) {
	for row := 0; row < h; row++ {
		d := (dy+row)*p.Stride + dx
		s := (sy+row)*src.Stride + sx
		copy(p.Pix[d:d+w], src.Pix[s:s+w])
	}
}

// Planes is one generation of a 4:2:0 picture: Y at full resolution, U and
// V at half resolution in both directions, rounded up for odd sizes.
type Planes struct {
	Y, U, V Plane
}

func newPlanes(width, height int) *Planes {
	return &Planes{
		Y: newPlane(width, height),
		U: newPlane((width+1)/2, (height+1)/2),
		V: newPlane((width+1)/2, (height+1)/2),
	}
}

func (p *Planes) copyFrom(src *Planes) {
	copy(p.Y.Pix, src.Y.Pix)
	copy(p.U.Pix, src.U.Pix)
	copy(p.V.Pix, src.V.Pix)
}

// PlaneBuffers owns the current and previous picture generations. Both
// always have the same dimensions.
type PlaneBuffers struct {
	width, height int
	cur, prev     *Planes
	committed     int
}

// NewPlaneBuffers allocates two zero-filled generations of width x height.
func NewPlaneBuffers(width, height int) (*PlaneBuffers, error) {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return nil, corruptf("picture size %dx%d", width, height)
	}
	return &PlaneBuffers{
		width:  width,
		height: height,
		cur:    newPlanes(width, height),
		prev:   newPlanes(width, height),
	}, nil
}

// Size returns the luma dimensions.
func (b *PlaneBuffers) Size() (width, height int) {
	return b.width, b.height
}

// Current returns the generation being written by the next frame.
func (b *PlaneBuffers) Current() *Planes {
	return b.cur
}

// Previous returns the generation holding the last committed frame.
func (b *PlaneBuffers) Previous() *Planes {
	return b.prev
}

// Committed returns the number of frames committed so far.
func (b *PlaneBuffers) Committed() int {
	return b.committed
}

// Swap exchanges the current and previous generations without copying.
func (b *PlaneBuffers) Swap() {
	b.cur, b.prev = b.prev, b.cur
}

// Commit finishes a decoded frame. After the first frame the current
// generation is copied into the previous one, since there is no earlier
// picture to swap with; after every later frame the generations are swapped.
// Either way Previous holds the frame just decoded.
func (b *PlaneBuffers) Commit() {
	b.committed++
	if b.committed == 1 {
		b.prev.copyFrom(b.cur)
		return
	}
	b.Swap()
}
