package console

import (
	"fmt"
	"io"
)

// Banner precedes every line received from the peer.
const Banner = "Remote said:"

// Printer writes remote lines to the local output.
type Printer struct {
	w io.Writer
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Print writes text framed by the banner.
func (p *Printer) Print(text []byte) error {
	if _, err := fmt.Fprintf(p.w, "\n%s\n%s\n", Banner, text); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
