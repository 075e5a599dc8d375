package dataset

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// LibSVM holds a parsed svmlight file.
type LibSVM struct {
	Label []float64
	X     *CSR
}

// LoadLibSVM reads an svmlight file ("label idx:value ...", zero-based indices).
func LoadLibSVM(path string) (*LibSVM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewEngineError("LoadLibSVM", "io", err)
	}
	defer f.Close()
	return ParseLibSVM(f)
}

// ParseLibSVM parses svmlight text. Text after '#' is ignored, as are blank lines.
func ParseLibSVM(r io.Reader) (*LibSVM, error) {
	out := &LibSVM{X: &CSR{Indptr: []int{0}}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		label, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, errors.NewEngineErrorf("ParseLibSVM", "malformed libsvm", "line %d: bad label %q", lineNo, fields[0])
		}
		prev := -1
		for _, tok := range fields[1:] {
			colon := strings.IndexByte(tok, ':')
			if colon <= 0 {
				return nil, errors.NewEngineErrorf("ParseLibSVM", "malformed libsvm", "line %d: bad pair %q", lineNo, tok)
			}
			idx, err := strconv.Atoi(tok[:colon])
			if err != nil || idx < 0 {
				return nil, errors.NewEngineErrorf("ParseLibSVM", "malformed libsvm", "line %d: bad index %q", lineNo, tok)
			}
			if idx <= prev {
				return nil, errors.NewEngineErrorf("ParseLibSVM", "malformed libsvm", "line %d: indices not increasing at %d", lineNo, idx)
			}
			prev = idx
			val, err := strconv.ParseFloat(tok[colon+1:], 64)
			if err != nil {
				return nil, errors.NewEngineErrorf("ParseLibSVM", "malformed libsvm", "line %d: bad value %q", lineNo, tok)
			}
			out.X.Indices = append(out.X.Indices, idx)
			out.X.Values = append(out.X.Values, val)
			if idx+1 > out.X.NumCols {
				out.X.NumCols = idx + 1
			}
		}
		out.Label = append(out.Label, label)
		out.X.Indptr = append(out.X.Indptr, len(out.X.Indices))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.NewEngineError("ParseLibSVM", "io", err)
	}
	return out, nil
}

// LoadQueryFile reads whitespace separated group sizes.
func LoadQueryFile(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewEngineError("LoadQueryFile", "io", err)
	}
	fields := strings.Fields(string(data))
	sizes := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, errors.NewEngineErrorf("LoadQueryFile", "malformed query file", "bad group size %q", f)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}
