package roq

const (
	codebookEntries = 256
	cellSize        = 6
	quadCellSize    = 4
)

// Cell is a 2x2 vector: four luma samples in raster order and one chroma
// pair shared by the block.
type Cell struct {
	Y    [4]uint8
	U, V uint8
}

// QuadCell is a 4x4 vector built from four cell indices, one per 2x2
// quadrant in top-left, top-right, bottom-left, bottom-right order.
type QuadCell [4]uint8

// CodebookLoad describes how a CODEBOOK chunk was interpreted.
type CodebookLoad struct {
	Cells int
	Quads int
	// Inferred is set when a zero quad-cell count was read as 256 because
	// the payload had room for them.
	Inferred bool
	// Ambiguous is set when the quad-cell count byte was zero and the payload
	// size matched neither reading exactly.
	Ambiguous bool
	// Trailing counts payload bytes beyond the declared tables.
	Trailing int
}

// Codebook holds the vector tables currently in force. The zero value is an
// empty codebook; any lookup into it fails.
type Codebook struct {
	cells    [codebookEntries]Cell
	quads    [codebookEntries]QuadCell
	numCells int
	numQuads int
}

// Counts returns the number of populated cells and quad-cells.
func (cb *Codebook) Counts() (cells, quads int) {
	return cb.numCells, cb.numQuads
}

// Load replaces the codebook from a CODEBOOK chunk payload. The argument's
// high byte is the cell count and its low byte the quad-cell count, with zero
// meaning 256. The codebook is only modified when the whole payload parses.
func (cb *Codebook) Load(payload []byte, arg uint16) (CodebookLoad, error) {
	var ld CodebookLoad

	ld.Cells = int(arg >> 8)
	if ld.Cells == 0 {
		ld.Cells = codebookEntries
	}
	ld.Quads = int(arg & 0xFF)
	cellBytes := ld.Cells * cellSize
	if ld.Quads == 0 && cellBytes < len(payload) {
		ld.Quads = codebookEntries
		ld.Inferred = true
		ld.Ambiguous = len(payload) != cellBytes+codebookEntries*quadCellSize
	}

	need := cellBytes + ld.Quads*quadCellSize
	if len(payload) < need {
		return ld, truncatedf("codebook of %d cells and %d quad-cells needs %d bytes, have %d",
			ld.Cells, ld.Quads, need, len(payload))
	}
	ld.Trailing = len(payload) - need

	for i := 0; i < ld.Cells; i++ {
		b := payload[i*cellSize:]
		cb.cells[i] = Cell{Y: [4]uint8{b[0], b[1], b[2], b[3]}, U: b[4], V: b[5]}
	}
	for i := 0; i < ld.Quads; i++ {
		b := payload[cellBytes+i*quadCellSize:]
		cb.quads[i] = QuadCell{b[0], b[1], b[2], b[3]}
	}
	cb.numCells = ld.Cells
	cb.numQuads = ld.Quads
	return ld, nil
}

// Cell returns the cell at index i.
func (cb *Codebook) Cell(i uint8) (*Cell, error) {
	if int(i) >= cb.numCells {
		return nil, corruptf("cell index %d, codebook has %d", i, cb.numCells)
	}
	return &cb.cells[i], nil
}

// QuadCell returns the quad-cell at index i.
func (cb *Codebook) QuadCell(i uint8) (QuadCell, error) {
	if int(i) >= cb.numQuads {
		return QuadCell{}, corruptf("quad-cell index %d, codebook has %d", i, cb.numQuads)
	}
	return cb.quads[i], nil
}
