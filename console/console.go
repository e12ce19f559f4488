// Package console prints human-facing progress output: boxed banners, the
// provisioning summary and formatted HTTP exchanges.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

var bannerColor = text.Colors{text.Bold, text.FgBlue, text.BgHiWhite}

// Printer writes styled messages to a terminal. It is safe for concurrent use.
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

// New returns a printer writing to out. A nil writer means stderr.
func New(out io.Writer, color bool) *Printer {
	if out == nil {
		out = os.Stderr
	}
	return &Printer{out: out, color: color}
}

// Discard returns a printer that drops everything.
func Discard() *Printer {
	return New(io.Discard, false)
}

// Color reports whether output is highlighted.
func (p *Printer) Color() bool {
	return p.color
}

// Info prints message inside a box of '=' lines followed by any data values.
func (p *Printer) Info(message string, data ...any) {
	p.Print(Banner(message, p.color))
	for _, d := range data {
		p.Print(fmt.Sprint(d))
	}
}

// Banner returns the boxed form of message.
func Banner(message string, color bool) string {
	line := strings.Repeat("=", len(message)+4)
	rows := []string{line, "  " + message + "  ", line}
	if color {
		for i, r := range rows {
			rows[i] = bannerColor.Sprint(r)
		}
	}
	return strings.Join(rows, "\n")
}

// Print writes s followed by a newline unless s already ends in one.
func (p *Printer) Print(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	_, _ = io.WriteString(p.out, s)
}

// Summary renders key/value rows as a rounded table under a title.
func (p *Printer) Summary(title string, rows [][2]string) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	header := table.Row{"KEY", "VALUE"}
	if p.color {
		header = table.Row{text.FgHiCyan.Sprint("KEY"), text.FgHiCyan.Sprint("VALUE")}
	}
	t.AppendHeader(header)
	for _, r := range rows {
		t.AppendRow(table.Row{r[0], r[1]})
	}
	p.Print(t.Render())
}
