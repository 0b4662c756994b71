package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/wasm-capi/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// printer writes command output, styled only when w is a terminal.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w}
	if f, ok := w.(*os.File); ok {
		p.styled = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) module(path string, imports []runtime.ImportType, exports []runtime.ExportType) {
	fmt.Fprintln(p.w, p.render(titleStyle, path))

	fmt.Fprintf(p.w, "\nImports (%d):\n", len(imports))
	for _, imp := range imports {
		fmt.Fprintf(p.w, "  %s %s\n",
			p.render(nameStyle, imp.Module+"."+imp.Name),
			p.render(kindStyle, imp.Kind.String()))
	}

	fmt.Fprintf(p.w, "\nExports (%d):\n", len(exports))
	for _, exp := range exports {
		fmt.Fprintf(p.w, "  %s %s\n",
			p.render(nameStyle, exp.Name),
			p.render(kindStyle, exp.Kind.String()))
	}
}

func (p *printer) results(results []any) {
	if len(results) == 0 {
		fmt.Fprintln(p.w, p.render(dimStyle, "(no results)"))
		return
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprint(r)
	}
	fmt.Fprintln(p.w, p.render(resultStyle, strings.Join(parts, " ")))
}

func (p *printer) trap(t *runtime.Trap) {
	fmt.Fprintln(p.w, p.render(errorStyle, "trap: "+t.Message()))
	for _, f := range t.Trace() {
		fmt.Fprintln(p.w, p.render(dimStyle, fmt.Sprintf("  at func[%d] +%#x", f.FuncIndex, f.FuncOffset)))
	}
}

func (p *printer) failure(err error) {
	fmt.Fprintln(p.w, p.render(errorStyle, "Error: "+err.Error()))
}
