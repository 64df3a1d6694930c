package ui

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ASCIILogo is printed at the top of interactive commands
const ASCIILogo = `
    ╔═════════════════════════════════════════════════════════════╗
    ║ ██████╗ ███████╗██╗  ██╗███████╗██╗     ███████╗██╗   ██╗ ║
    ║ ██╔══██╗██╔════╝╚██╗██╔╝██╔════╝██║     ██╔════╝╚██╗ ██╔╝ ║
    ║ ██████╔╝█████╗   ╚███╔╝ █████╗  ██║     ███████╗ ╚████╔╝  ║
    ║ ██╔═══╝ ██╔══╝   ██╔██╗ ██╔══╝  ██║     ╚════██║  ╚██╔╝   ║
    ║ ██║     ███████╗██╔╝ ██╗███████╗███████╗███████║   ██║    ║
    ║ ╚═╝     ╚══════╝╚═╝  ╚═╝╚══════╝╚══════╝╚══════╝   ╚═╝    ║
    ║          STOCK PHOTO SEARCH → DATASET UPLOADER           ║
    ╚═════════════════════════════════════════════════════════════╝
`

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

func colorize(colorString string) func(string) string {
	return func(text string) string {
		return fmt.Sprintf(colorString, text)
	}
}

// Palette applies the color functions only when its writer is a terminal.
// NO_COLOR turns it off everywhere.
type Palette struct {
	on bool
}

// PaletteFor returns the palette for out
func PaletteFor(out io.Writer) Palette {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return Palette{}
	}
	f, ok := out.(interface{ Fd() uintptr })
	return Palette{on: ok && term.IsTerminal(int(f.Fd()))}
}

func (p Palette) paint(color func(string) string, text string) string {
	if !p.on {
		return text
	}
	return color(text)
}

func (p Palette) Cyan(s string) string    { return p.paint(Cyan, s) }
func (p Palette) Yellow(s string) string  { return p.paint(Yellow, s) }
func (p Palette) Red(s string) string     { return p.paint(Red, s) }
func (p Palette) Green(s string) string   { return p.paint(Green, s) }
func (p Palette) Magenta(s string) string { return p.paint(Magenta, s) }
func (p Palette) Dim(s string) string     { return p.paint(Dim, s) }

// Console prints colored status lines to one writer
type Console struct {
	out   io.Writer
	color Palette
}

// NewConsole returns a Console writing to out
func NewConsole(out io.Writer) *Console {
	return &Console{out: out, color: PaletteFor(out)}
}

func (c *Console) Logo() {
	fmt.Fprint(c.out, c.color.Cyan(ASCIILogo))
}

func (c *Console) Error(msg string, args ...interface{}) {
	fmt.Fprintln(c.out, c.color.Red(withArg(msg, args)))
}

func (c *Console) Success(msg string) {
	fmt.Fprintln(c.out, c.color.Green(msg))
}

// Info prints a "label: value" line
func (c *Console) Info(label, value string) {
	fmt.Fprintf(c.out, "%s: %s\n", c.color.Cyan(label), c.color.Yellow(value))
}

func (c *Console) Warning(msg string, args ...interface{}) {
	fmt.Fprintln(c.out, c.color.Yellow(withArg(msg, args)))
}

func (c *Console) Highlight(msg string) {
	fmt.Fprintln(c.out, c.color.Magenta(msg))
}

func withArg(msg string, args []interface{}) string {
	if len(args) > 0 {
		return msg + ": " + fmt.Sprintf("%v", args[0])
	}
	return msg
}
