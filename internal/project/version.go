package project

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

var (
	gerberDirRe = regexp.MustCompile(`^gerberV([1-9]\d*)$`)
	gcodeDirRe  = regexp.MustCompile(`^gcodeV([1-9]\d*)_([1-9]\d*)$`)
)

// GerberDirName is the directory name of Gerber version n.
func GerberDirName(n int) string {
	return fmt.Sprintf("gerberV%d", n)
}

// GCodeDirName is the directory name of G-code version m of Gerber version g.
func GCodeDirName(g, m int) string {
	return fmt.Sprintf("gcodeV%d_%d", g, m)
}

// ParseGerberDirName returns the version encoded in a gerber directory name.
func ParseGerberDirName(name string) (int, bool) {
	m := gerberDirRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// ParseGCodeDirName returns the Gerber and G-code versions encoded in a
// gcode directory name.
func ParseGCodeDirName(name string) (int, int, bool) {
	m := gcodeDirRe.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	g, err1 := strconv.Atoi(m[1])
	v, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return g, v, true
}

// scanVersions lists version numbers of directories in dir accepted by match.
func scanVersions(dir string, match func(name string) (int, bool)) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := match(e.Name()); ok {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

func nextVersion(existing []int) int {
	if len(existing) == 0 {
		return 1
	}
	return existing[len(existing)-1] + 1
}
