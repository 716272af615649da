package gcode

import "strings"

// MergedName is the combined program written into a conversion result.
const MergedName = "merged_output.ngc"

// MergeLines combines split programs: init and finish of the first program
// around the milling segments of all of them. Tool change blocks are dropped.
func MergeLines(progs []Program) []string {
	if len(progs) == 0 {
		return nil
	}
	first := progs[0]
	n := len(first.Init) + len(first.Finish)
	for _, p := range progs {
		n += len(p.Milling)
	}
	out := make([]string, 0, n)
	out = append(out, first.Init...)
	for _, p := range progs {
		out = append(out, p.Milling...)
	}
	return append(out, first.Finish...)
}

// Merge combines toolpath file contents in order and joins the result with
// single newlines.
func Merge(contents []string) string {
	progs := make([]Program, 0, len(contents))
	for _, c := range contents {
		progs = append(progs, Split(c))
	}
	return strings.Join(MergeLines(progs), "\n")
}

// Part is one converter output file together with the tool diameter it was
// cut with.
type Part struct {
	Name     string
	Diameter float64
	Content  string
}

// Group is the merged program for all parts sharing one diameter.
type Group struct {
	Diameter float64
	Names    []string
	Content  string
}

// MergeGroups merges parts that share a tool diameter, keeping the order in
// which diameters first appear.
func MergeGroups(parts []Part) []Group {
	index := make(map[float64]int)
	var groups []Group
	var contents [][]string
	for _, p := range parts {
		i, ok := index[p.Diameter]
		if !ok {
			i = len(groups)
			index[p.Diameter] = i
			groups = append(groups, Group{Diameter: p.Diameter})
			contents = append(contents, nil)
		}
		groups[i].Names = append(groups[i].Names, p.Name)
		contents[i] = append(contents[i], p.Content)
	}
	for i := range groups {
		groups[i].Content = Merge(contents[i])
	}
	return groups
}
