package roq

// Opcode is a 2-bit block coding mode read from the VQ flag stream.
type Opcode uint8

// Block coding modes. The same four modes are used for 8x8 blocks and for
// the 4x4 sub-blocks of a CCC block.
const (
	OpMOT Opcode = iota // unchanged from the previous picture
	OpFCC               // motion-compensated copy from the previous picture
	OpSLD               // one quad-cell vector
	OpCCC               // subdivide
)

func (op Opcode) String() string {
	switch op {
	case OpMOT:
		return "MOT"
	case OpFCC:
		return "FCC"
	case OpSLD:
		return "SLD"
	}
	return "CCC"
}

const (
	macroblockSize = 16
	blockSize      = 8
	subBlockSize   = 4
)

// FrameStats counts the opcodes used by a decoded frame. Ops[0] counts the
// 8x8 level and Ops[1] the 4x4 level, indexed by Opcode.
type FrameStats struct {
	Ops         [2][4]int
	Macroblocks int
	// Repeated counts macroblocks copied forward because the payload ended
	// before reaching them.
	Repeated int
	Consumed int
	Unused   int
}

type frameDecoder struct {
	buf       []byte
	pos       int
	flags     uint16
	flagsLeft int
	meanX     int
	meanY     int
	cb        *Codebook
	prev      *Planes
	cur       *Planes
	stats     FrameStats
}

// DecodeFrame reconstructs one picture into cur from a VQ chunk payload,
// reading vectors from cb and motion references from prev. The argument
// packs the signed frame-wide motion bias as (mean_x<<8 | mean_y).
//
// Macroblocks are visited in raster order; a partial macroblock at the right
// or bottom edge is not visited. If the payload ends on a macroblock boundary
// the remaining macroblocks are copied forward from prev.
func DecodeFrame(payload []byte, arg uint16, cb *Codebook, prev, cur *Planes) (FrameStats, error) {
	d := &frameDecoder{
		buf:   payload,
		meanX: int(int8(arg >> 8)),
		meanY: int(int8(arg & 0xFF)),
		cb:    cb,
		prev:  prev,
		cur:   cur,
	}
	if prev.Y.Width != cur.Y.Width || prev.Y.Height != cur.Y.Height {
		return d.stats, corruptf("generation sizes differ: %dx%d and %dx%d",
			prev.Y.Width, prev.Y.Height, cur.Y.Width, cur.Y.Height)
	}

	width, height := cur.Y.Width, cur.Y.Height
	for y := 0; y+macroblockSize <= height; y += macroblockSize {
		for x := 0; x+macroblockSize <= width; x += macroblockSize {
			d.stats.Macroblocks++
			if d.pos >= len(d.buf) {
				d.skip(x, y, macroblockSize)
				d.stats.Repeated++
				continue
			}
			if err := d.macroblock(x, y); err != nil {
				return d.stats, err
			}
		}
	}

	d.stats.Consumed = d.pos
	d.stats.Unused = len(d.buf) - d.pos
	return d.stats, nil
}

func (d *frameDecoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, truncatedf("VQ payload ends at byte %d", len(d.buf))
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// readOpcode returns the next 2-bit field, most significant field first,
// loading a new little-endian flag word after every eight fields.
func (d *frameDecoder) readOpcode() (Opcode, error) {
	if d.flagsLeft == 0 {
		lo, err := d.readByte()
		if err != nil {
			return 0, err
		}
		hi, err := d.readByte()
		if err != nil {
			return 0, err
		}
		d.flags = uint16(lo) | uint16(hi)<<8
		d.flagsLeft = 8
	}
	d.flagsLeft--
	return Opcode(d.flags>>(uint(d.flagsLeft)*2)) & 3, nil
}

func (d *frameDecoder) macroblock(x, y int) error {
	for i := 0; i < 4; i++ {
		bx := x + (i&1)*blockSize
		by := y + (i>>1)*blockSize
		if err := d.block(bx, by); err != nil {
			return err
		}
	}
	return nil
}

func (d *frameDecoder) block(x, y int) error {
	op, err := d.readOpcode()
	if err != nil {
		return err
	}
	d.stats.Ops[0][op]++

	switch op {
	case OpMOT:
		d.skip(x, y, blockSize)
	case OpFCC:
		mv, err := d.readByte()
		if err != nil {
			return err
		}
		return d.motion(x, y, blockSize, mv)
	case OpSLD:
		q, err := d.quadCell()
		if err != nil {
			return err
		}
		for i, idx := range q {
			cell, err := d.cb.Cell(idx)
			if err != nil {
				return err
			}
			d.paintCell4x4(x+(i&1)*subBlockSize, y+(i>>1)*subBlockSize, cell)
		}
	case OpCCC:
		for i := 0; i < 4; i++ {
			sx := x + (i&1)*subBlockSize
			sy := y + (i>>1)*subBlockSize
			if err := d.subBlock(sx, sy); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *frameDecoder) subBlock(x, y int) error {
	op, err := d.readOpcode()
	if err != nil {
		return err
	}
	d.stats.Ops[1][op]++

	switch op {
	case OpMOT:
		d.skip(x, y, subBlockSize)
	case OpFCC:
		mv, err := d.readByte()
		if err != nil {
			return err
		}
		return d.motion(x, y, subBlockSize, mv)
	case OpSLD:
		q, err := d.quadCell()
		if err != nil {
			return err
		}
		return d.paintCells2x2(x, y, q)
	case OpCCC:
		var q QuadCell
		for i := range q {
			if q[i], err = d.readByte(); err != nil {
				return err
			}
		}
		return d.paintCells2x2(x, y, q)
	}
	return nil
}

func (d *frameDecoder) quadCell() (QuadCell, error) {
	idx, err := d.readByte()
	if err != nil {
		return QuadCell{}, err
	}
	return d.cb.QuadCell(idx)
}

func (d *frameDecoder) paintCells2x2(x, y int, q QuadCell) error {
	for i, idx := range q {
		cell, err := d.cb.Cell(idx)
		if err != nil {
			return err
		}
		d.paintCell2x2(x+(i&1)*2, y+(i>>1)*2, cell)
	}
	return nil
}

// skip copies a size x size block and its chroma forward from the previous
// picture at the same position.
func (d *frameDecoder) skip(x, y, size int) {
	d.cur.Y.copyBlock(x, y, &d.prev.Y, x, y, size, size)
	c := size / 2
	d.cur.U.copyBlock(x/2, y/2, &d.prev.U, x/2, y/2, c, c)
	d.cur.V.copyBlock(x/2, y/2, &d.prev.V, x/2, y/2, c, c)
}

// motion copies a size x size block from the previous picture displaced by
// the motion byte and the frame-wide bias. Chroma uses half the luma offset,
// rounding the horizontal component up.
func (d *frameDecoder) motion(x, y, size int, mv byte) error {
	mx := x + 8 - int(mv>>4) - d.meanX
	my := y + 8 - int(mv&0xF) - d.meanY
	if !d.prev.Y.contains(mx, my, size, size) {
		return corruptf("motion vector 0x%02X at (%d,%d) references luma (%d,%d)", mv, x, y, mx, my)
	}
	c := size / 2
	cx, cy := (mx+1)/2, my/2
	if !d.prev.U.contains(cx, cy, c, c) {
		return corruptf("motion vector 0x%02X at (%d,%d) references chroma (%d,%d)", mv, x, y, cx, cy)
	}

	d.cur.Y.copyBlock(x, y, &d.prev.Y, mx, my, size, size)
	d.cur.U.copyBlock(x/2, y/2, &d.prev.U, cx, cy, c, c)
	d.cur.V.copyBlock(x/2, y/2, &d.prev.V, cx, cy, c, c)
	return nil
}

// paintCell4x4 draws a cell scaled to 4x4: each luma sample covers 2x2
// pixels and the chroma pair covers the 2x2 chroma block.
func (d *frameDecoder) paintCell4x4(x, y int, cell *Cell) {
	for i, v := range cell.Y {
		d.cur.Y.fill(x+(i&1)*2, y+(i>>1)*2, 2, 2, v)
	}
	d.cur.U.fill(x/2, y/2, 2, 2, cell.U)
	d.cur.V.fill(x/2, y/2, 2, 2, cell.V)
}

// paintCell2x2 draws a cell at its native 2x2 size with one chroma sample.
func (d *frameDecoder) paintCell2x2(x, y int, cell *Cell) {
	d.cur.Y.Set(x, y, cell.Y[0])
	d.cur.Y.Set(x+1, y, cell.Y[1])
	d.cur.Y.Set(x, y+1, cell.Y[2])
	d.cur.Y.Set(x+1, y+1, cell.Y[3])
	d.cur.U.Set(x/2, y/2, cell.U)
	d.cur.V.Set(x/2, y/2, cell.V)
}
