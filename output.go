// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/kshedden/gonpy"
	"gonum.org/v1/gonum/mat"
)

// formatFloat writes NaN and infinities the way numpy does.
func formatFloat(v float64, fmtc byte, prec int) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, fmtc, prec, 64)
}

// writeFile creates (or truncates) fnm, passes a buffered writer to
// write, and flushes and closes the file.
func writeFile(fnm string, write func(w *bufio.Writer) error) error {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriterSize(f, 1<<20)
	err = write(bufw)
	if err != nil {
		return fmt.Errorf("writing %s: %w", fnm, err)
	}
	err = bufw.Flush()
	if err != nil {
		return fmt.Errorf("writing %s: %w", fnm, err)
	}
	return f.Close()
}

// writeSNPDat writes variant metadata with frequency and variance.
func writeSNPDat(w io.Writer, t *dosageTable) error {
	_, err := fmt.Fprintln(w, "RSID POS A1 A2 FREQ1 GVAR")
	if err != nil {
		return err
	}
	for r, v := range t.Variants {
		_, err = fmt.Fprintf(w, "%s %d %s %s %s %s\n", v.RSID, v.Pos, v.A1, v.A2,
			formatFloat(t.Freq[r], 'g', -1), formatFloat(t.Var[r], 'g', -1))
		if err != nil {
			return err
		}
	}
	return nil
}

// writeDosages writes the full dosage table without a header:
// ID RSID POS A1 A2 FREQ VAR dosage...
func writeDosages(w *bufio.Writer, t *dosageTable) error {
	for r, v := range t.Variants {
		fmt.Fprintf(w, "%s %s %d %s %s %s %s", v.ID, v.RSID, v.Pos, v.A1, v.A2,
			formatFloat(t.Freq[r], 'g', -1), formatFloat(t.Var[r], 'g', -1))
		for _, d := range t.Dosage[r] {
			w.WriteByte(' ')
			w.WriteString(formatFloat(d, 'g', -1))
		}
		err := w.WriteByte('\n')
		if err != nil {
			return err
		}
	}
	return nil
}

// writeLDText writes one matrix row per line, space separated, with
// 18 digits after the decimal point in exponent form.
func writeLDText(w *bufio.Writer, ld *mat.SymDense) error {
	n := ld.Symmetric()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if j > 0 {
				w.WriteByte(' ')
			}
			w.WriteString(formatFloat(ld.At(i, j), 'e', 18))
		}
		err := w.WriteByte('\n')
		if err != nil {
			return err
		}
	}
	return nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// writeNumpy writes a rows x cols float64 array in .npy format.
func writeNumpy(w io.Writer, data []float64, rows, cols int) error {
	npw, err := gonpy.NewWriter(nopCloser{w})
	if err != nil {
		return err
	}
	npw.Shape = []int{rows, cols}
	return npw.WriteFloat64(data)
}

func ldArray(ld *mat.SymDense) (data []float64, rows, cols int) {
	n := ld.Symmetric()
	data = make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			data = append(data, ld.At(i, j))
		}
	}
	return data, n, n
}

func dosageArray(t *dosageTable) (data []float64, rows, cols int) {
	rows, cols = t.Len(), t.Samples()
	data = make([]float64, 0, rows*cols)
	for _, d := range t.Dosage {
		data = append(data, d...)
	}
	return data, rows, cols
}
