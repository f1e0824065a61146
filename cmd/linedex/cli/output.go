package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"linedex/internal/index"
)

// printer handles table or JSON output.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(cmd *cobra.Command) *printer {
	return &printer{format: outputFormat(cmd), w: cmd.OutOrStdout()}
}

// json marshals v as indented JSON.
func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes rows using tabwriter. header is the first row.
// rows is a slice of slices; each inner slice is a row of strings.
func (p *printer) table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for i, h := range header {
		if i > 0 {
			_, _ = fmt.Fprint(tw, "\t")
		}
		_, _ = fmt.Fprint(tw, h)
	}
	_, _ = fmt.Fprintln(tw)
	for _, row := range rows {
		for i, col := range row {
			if i > 0 {
				_, _ = fmt.Fprint(tw, "\t")
			}
			_, _ = fmt.Fprint(tw, col)
		}
		_, _ = fmt.Fprintln(tw)
	}
	_ = tw.Flush()
}

// kv prints a key-value detail view.
func (p *printer) kv(pairs [][2]string) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, pair := range pairs {
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", pair[0], pair[1])
	}
	_ = tw.Flush()
}

// metaView is what meta commands print, locally or from a server.
type metaView struct {
	TotalItems  int               `json:"totalItems"`
	LetterIndex index.BucketIndex `json:"letterIndex"`
	BuildID     string            `json:"buildId"`
	Stale       bool              `json:"stale"`
}

func (p *printer) meta(m metaView) error {
	if p.format == "json" {
		return p.json(m)
	}
	p.kv([][2]string{
		{"Lines", strconv.Itoa(m.TotalItems)},
		{"Build", m.BuildID},
		{"Stale", strconv.FormatBool(m.Stale)},
	})
	_, _ = fmt.Fprintln(p.w)
	var rows [][]string
	for _, label := range m.LetterIndex.Labels() {
		b := m.LetterIndex[label]
		rows = append(rows, []string{label, strconv.Itoa(b.Start), strconv.Itoa(b.End), strconv.Itoa(b.Len())})
	}
	p.table([]string{"LABEL", "START", "END", "LINES"}, rows)
	return nil
}

// lines prints a range result. The table view numbers each line; the JSON
// view is the bare array the HTTP endpoint returns.
func (p *printer) lines(start int, lines []string) error {
	if p.format == "json" {
		return p.json(lines)
	}
	rows := make([][]string, len(lines))
	for i, l := range lines {
		rows[i] = []string{strconv.Itoa(start + i), l}
	}
	p.table([]string{"LINE", "TEXT"}, rows)
	return nil
}
