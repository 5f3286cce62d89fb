package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/fatih/color"
)

// report writes the line-oriented check output.
type report struct {
	w    io.Writer
	pass *color.Color
	fail *color.Color
}

func newReport(w io.Writer) *report {
	return &report{
		w:    w,
		pass: color.New(color.FgGreen),
		fail: color.New(color.FgRed, color.Bold),
	}
}

func (r *report) info(format string, args ...any) {
	fmt.Fprintf(r.w, format+"\n", args...)
}

func (r *report) ok(format string, args ...any) {
	r.pass.Fprintf(r.w, format+"\n", args...)
}

func (r *report) failed(format string, args ...any) {
	r.fail.Fprintf(r.w, format+"\n", args...)
}

type commandBuilder []string

func (b *commandBuilder) add(args ...string) {
	for _, a := range args {
		*b = append(*b, shellescape.Quote(a))
	}
}

func (b commandBuilder) String() string {
	return strings.Join(b, " ")
}
