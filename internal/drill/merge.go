// Package drill consolidates Excellon drill files exported per layer into a
// single drill program with one tool per distinct diameter.
package drill

import (
	"fmt"
	"regexp"
	"strings"
)

// ConsolidatedName is the file written next to the per-layer drill files.
const ConsolidatedName = "Drill_Total.DRL"

var (
	toolDefRe   = regexp.MustCompile(`^T(\d+)C([\d.]+)`)
	toolUsageRe = regexp.MustCompile(`^T(\d+)`)
)

// Records maps a coordinate line to the diameter it is drilled with, keeping
// the order in which coordinates were first seen.
type Records struct {
	order []string
	dia   map[string]string
}

// NewRecords returns an empty record set.
func NewRecords() Records {
	return Records{dia: make(map[string]string)}
}

// Len reports the number of distinct coordinates.
func (r Records) Len() int { return len(r.order) }

// Coordinates returns the coordinates in first-seen order.
func (r Records) Coordinates() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Diameter returns the diameter recorded for coord.
func (r Records) Diameter(coord string) (string, bool) {
	d, ok := r.dia[coord]
	return d, ok
}

// put records coord with diameter d. A coordinate seen again keeps the larger
// diameter token. The comparison is textual, so callers must feed diameters
// formatted with the same number of decimals.
func (r *Records) put(coord, d string) {
	cur, ok := r.dia[coord]
	if !ok {
		r.order = append(r.order, coord)
		r.dia[coord] = d
		return
	}
	if cur < d {
		r.dia[coord] = d
	}
}

// Tool is one entry of a ToolTable.
type Tool struct {
	Number      int
	Diameter    string
	Coordinates []string
}

// ToolTable is the ordered list of tools of a consolidated drill program.
type ToolTable []Tool

// Collect parses one drill file and folds its drill hits into recs. Tool
// definitions are local to the file; coordinates before any resolvable tool
// selection are skipped.
func Collect(recs Records, content string) Records {
	if recs.dia == nil {
		recs = NewRecords()
	}
	local := make(map[string]string)
	current := ""
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if m := toolDefRe.FindStringSubmatch(line); m != nil {
			local[m[1]] = m[2]
			continue
		}
		if m := toolUsageRe.FindStringSubmatch(line); m != nil {
			current = local[m[1]]
			continue
		}
		if current != "" && strings.HasPrefix(line, "X") {
			recs.put(line, current)
		}
	}
	return recs
}

// Resolve groups resolved records into tools numbered by first-seen diameter.
func Resolve(recs Records) ToolTable {
	index := make(map[string]int)
	var table ToolTable
	for _, coord := range recs.order {
		d := recs.dia[coord]
		i, ok := index[d]
		if !ok {
			i = len(table)
			index[d] = i
			table = append(table, Tool{Number: i + 1, Diameter: d})
		}
		table[i].Coordinates = append(table[i].Coordinates, coord)
	}
	return table
}

// Render writes the consolidated drill program for table.
func Render(table ToolTable) string {
	var b strings.Builder
	b.WriteString("M48\n")
	b.WriteString("METRIC,LZ,000.000\n")
	for _, t := range table {
		fmt.Fprintf(&b, "T%02dC%s\n", t.Number, t.Diameter)
	}
	b.WriteString("%\nG05\nG90\n")
	for _, t := range table {
		fmt.Fprintf(&b, "T%02d\n", t.Number)
		for _, c := range t.Coordinates {
			b.WriteString(c)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Merge consolidates the given drill file contents, in order, into one
// drill program.
func Merge(contents []string) string {
	recs := NewRecords()
	for _, c := range contents {
		recs = Collect(recs, c)
	}
	return Render(Resolve(recs))
}
