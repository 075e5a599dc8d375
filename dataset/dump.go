package dataset

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// WriteText writes a human readable dump of the binned data: the header, one
// line per bin mapper, then one line of bin indices per row. Labels are not
// included, so datasets that differ only in labels dump identically.
func (d *Dataset) WriteText(w io.Writer) error {
	const op = "Dataset.DumpText"
	if err := d.requireConstructed(op); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	bw.WriteString("num_features: " + strconv.Itoa(len(d.mappers)) + "\n")
	bw.WriteString("num_data: " + strconv.Itoa(d.numData) + "\n")
	bw.WriteString("feature_names: " + strings.Join(d.featureNames, " ") + "\n")
	if d.penalty != nil {
		parts := make([]string, len(d.penalty))
		for i, p := range d.penalty {
			parts[i] = formatFloat(p)
		}
		bw.WriteString("feature_penalty: " + strings.Join(parts, " ") + "\n")
	}
	if d.monotone != nil {
		parts := make([]string, len(d.monotone))
		for i, m := range d.monotone {
			parts[i] = strconv.Itoa(m)
		}
		bw.WriteString("monotone_constraints: " + strings.Join(parts, " ") + "\n")
	}
	if d.groupBoundaries != nil {
		bw.WriteString("num_groups: " + strconv.Itoa(len(d.groupBoundaries)-1) + "\n")
	}
	bw.WriteString("bin_mappers:\n")
	for f, m := range d.mappers {
		bw.WriteString(d.featureNames[f] + ": " + m.String() + "\n")
	}
	bw.WriteString("binned_rows:\n")
	line := make([]byte, 0, 8*len(d.mappers))
	for i := 0; i < d.numData; i++ {
		line = line[:0]
		for f, col := range d.columns {
			if f > 0 {
				line = append(line, ' ')
			}
			line = strconv.AppendUint(line, uint64(col[i]), 10)
		}
		line = append(line, '\n')
		bw.Write(line)
	}
	if err := bw.Flush(); err != nil {
		return errors.NewEngineError(op, "io", err)
	}
	return nil
}

// DumpText writes WriteText output to path.
func (d *Dataset) DumpText(path string) error {
	if err := d.requireConstructed("Dataset.DumpText"); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.NewEngineError("Dataset.DumpText", "io", err)
	}
	if err := d.WriteText(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.NewEngineError("Dataset.DumpText", "io", err)
	}
	return nil
}
