// Package qrcode renders a terminal-friendly QR code for the server's
// first reachable URL, printed once at startup when --qrcode is set.
package qrcode

import (
	"fmt"
	"io"
	"strings"

	"github.com/skip2/go-qrcode"
)

// WriteTo renders url as a QR code using half-block Unicode characters and
// writes it to w, followed by the URL itself.
func WriteTo(w io.Writer, url string) error {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("qrcode: encode %q: %w", url, err)
	}
	fmt.Fprintln(w, render(qr.Bitmap()))
	fmt.Fprintln(w, url)
	return nil
}

// render converts the QR module matrix into two-row-per-line half-block
// art so the code stays readable at typical terminal font aspect ratios.
func render(bitmap [][]bool) string {
	var b strings.Builder
	quiet := pad(bitmap)
	for y := 0; y < len(quiet); y += 2 {
		for x := 0; x < len(quiet[y]); x++ {
			top := quiet[y][x]
			bottom := y+1 < len(quiet) && quiet[y+1][x]
			b.WriteRune(blockFor(top, bottom))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func blockFor(top, bottom bool) rune {
	switch {
	case top && bottom:
		return '█'
	case top && !bottom:
		return '▀'
	case !top && bottom:
		return '▄'
	default:
		return ' '
	}
}

// pad surrounds the raw module matrix with a two-module quiet border, which
// most terminal QR scanners need to lock on.
func pad(bitmap [][]bool) [][]bool {
	if len(bitmap) == 0 {
		return bitmap
	}
	const border = 2
	width := len(bitmap[0])
	blankRow := make([]bool, width+2*border)

	out := make([][]bool, 0, len(bitmap)+2*border)
	for i := 0; i < border; i++ {
		out = append(out, blankRow)
	}
	for _, row := range bitmap {
		padded := make([]bool, width+2*border)
		copy(padded[border:], row)
		out = append(out, padded)
	}
	for i := 0; i < border; i++ {
		out = append(out, blankRow)
	}
	return out
}
