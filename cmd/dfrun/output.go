package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/seantiz/dataform-runner/internal/model"
)

// output renders command results as a table or as indented JSON.
type output struct {
	jsonMode bool
	w        io.Writer
	now      func() time.Time
}

func newOutput(w io.Writer, jsonMode bool) *output {
	return &output{jsonMode: jsonMode, w: w, now: time.Now}
}

// print writes rows under headers, or jsonData when in JSON mode.
func (o *output) print(headers []string, rows [][]string, jsonData any) error {
	if o.jsonMode {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonData)
	}

	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

var invocationHeaders = []string{"INVOCATION", "STATE", "STARTED", "DURATION"}

func (o *output) invocations(invs []model.Invocation) error {
	rows := make([][]string, len(invs))
	for i, inv := range invs {
		rows[i] = o.invocationRow(inv)
	}
	return o.print(invocationHeaders, rows, invs)
}

func (o *output) invocationRow(inv model.Invocation) []string {
	started := "-"
	if inv.StartTime != nil {
		started = humanize.RelTime(inv.StartTime.Time(), o.now(), "ago", "from now")
	}

	duration := "-"
	if d, ok := inv.DurationSeconds(); ok {
		duration = formatDuration(d)
	} else if inv.StartTime != nil && !inv.State.IsTerminal() {
		duration = formatDuration(o.now().Sub(inv.StartTime.Time()).Seconds()) + " (running)"
	}

	return []string{inv.ShortName(), string(inv.State), started, duration}
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
