package dataset

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// Source is raw row-major feature input. Row must be safe for concurrent calls
// with distinct dst buffers.
type Source interface {
	// Dims returns the number of rows and raw columns.
	Dims() (rows, cols int)
	// Row fills dst (len cols) with row i and returns it.
	Row(i int, dst []float64) []float64
}

type matrixSource struct {
	m mat.Matrix
}

// FromMatrix wraps a gonum matrix.
func FromMatrix(m mat.Matrix) Source {
	return matrixSource{m: m}
}

func (s matrixSource) Dims() (int, int) { return s.m.Dims() }

func (s matrixSource) Row(i int, dst []float64) []float64 {
	if rv, ok := s.m.(mat.RawRowViewer); ok {
		copy(dst, rv.RawRowView(i))
		return dst
	}
	for j := range dst {
		dst[j] = s.m.At(i, j)
	}
	return dst
}

type rowsSource struct {
	rows [][]float64
	cols int
}

// FromRows wraps dense rows. All rows must have the same length.
func FromRows(rows [][]float64) (Source, error) {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	for i, r := range rows {
		if len(r) != cols {
			return nil, errors.NewPreconditionErrorf("FromRows", "row %d has %d values, want %d", i, len(r), cols)
		}
	}
	return rowsSource{rows: rows, cols: cols}, nil
}

func (s rowsSource) Dims() (int, int) { return len(s.rows), s.cols }

func (s rowsSource) Row(i int, dst []float64) []float64 {
	copy(dst, s.rows[i])
	return dst
}

// chunkSource presents row chunks as one matrix. Rows are numbered in chunk
// order, so binning sees exactly the rows a single stacked matrix would give.
type chunkSource struct {
	chunks  []mat.Matrix
	offsets []int // offsets[k] is the first row of chunk k; offsets[len] is the total
	cols    int
}

// FromChunks stacks row chunks with a common column count.
func FromChunks(chunks []mat.Matrix) (Source, error) {
	if len(chunks) == 0 {
		return nil, errors.NewPreconditionError("FromChunks", "no chunks given")
	}
	_, cols := chunks[0].Dims()
	offsets := make([]int, len(chunks)+1)
	for k, c := range chunks {
		r, cc := c.Dims()
		if cc != cols {
			return nil, errors.NewDimensionError("FromChunks", cols, cc, 1)
		}
		offsets[k+1] = offsets[k] + r
	}
	return &chunkSource{chunks: chunks, offsets: offsets, cols: cols}, nil
}

func (s *chunkSource) Dims() (int, int) { return s.offsets[len(s.offsets)-1], s.cols }

func (s *chunkSource) Row(i int, dst []float64) []float64 {
	k := sort.SearchInts(s.offsets, i+1) - 1
	return matrixSource{m: s.chunks[k]}.Row(i-s.offsets[k], dst)
}

// NumChunks reports how many chunks back the source.
func (s *chunkSource) NumChunks() int { return len(s.chunks) }

// CSR is a compressed sparse row matrix. Absent entries are zero.
type CSR struct {
	Indptr  []int
	Indices []int
	Values  []float64
	NumCols int
}

// Dims implements Source.
func (c *CSR) Dims() (int, int) { return len(c.Indptr) - 1, c.NumCols }

// Row implements Source.
func (c *CSR) Row(i int, dst []float64) []float64 {
	for j := range dst {
		dst[j] = 0
	}
	for k := c.Indptr[i]; k < c.Indptr[i+1]; k++ {
		if c.Indices[k] < len(dst) {
			dst[c.Indices[k]] = c.Values[k]
		}
	}
	return dst
}

// Dense converts the CSR matrix to a gonum matrix.
func (c *CSR) Dense() *mat.Dense {
	rows, cols := c.Dims()
	if rows == 0 || cols == 0 {
		return &mat.Dense{}
	}
	d := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		c.Row(i, d.RawRowView(i))
	}
	return d
}
