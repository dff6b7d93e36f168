package msg

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

func line(w io.Writer, label, format string, a ...any) {
	fmt.Fprintf(w, "%s: %s\n", label, fmt.Sprintf(format, a...))
}

func Error(format string, a ...any) {
	line(os.Stderr, color.HiRedString("error"), format, a...)
}

func Warn(format string, a ...any) {
	line(os.Stderr, color.YellowString("warn"), format, a...)
}

func Fatal(format string, a ...any) {
	line(os.Stderr, color.RedString("fatal"), format, a...)
	os.Exit(1)
}

func Info(format string, a ...any) {
	line(os.Stdout, color.HiGreenString("info"), format, a...)
}

// IndentWriter prefixes every line written through it with Indent
type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (n int, err error) {
	var buf bytes.Buffer
	for _, c := range p {
		if !w.didIndent {
			buf.WriteString(w.Indent)
			w.didIndent = true
		}
		buf.WriteByte(c)
		if c == '\n' || c == '\r' {
			w.didIndent = false
		}
	}
	if _, err := w.W.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}
