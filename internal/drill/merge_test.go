package drill

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestMergeLargerDiameterWins(t *testing.T) {
	got := Merge([]string{
		"T01C0.800\nT01\nX010000Y020000\n",
		"T01C1.000\nT01\nX010000Y020000\n",
	})
	want := "M48\nMETRIC,LZ,000.000\nT01C1.000\n%\nG05\nG90\nT01\nX010000Y020000\n"
	if got != want {
		t.Fatalf("Merge() = %q, want %q", got, want)
	}
}

func TestMergeEmptyInput(t *testing.T) {
	got := Merge(nil)
	want := "M48\nMETRIC,LZ,000.000\n%\nG05\nG90\n"
	if got != want {
		t.Fatalf("Merge(nil) = %q, want %q", got, want)
	}
}

func TestMergeSingleFileRenumbersByFirstAppearance(t *testing.T) {
	in := strings.Join([]string{
		"M48",
		"T07C0.600",
		"T03C1.200",
		"%",
		"T03",
		"X001000Y001000",
		"X002000Y002000",
		"T07",
		"X003000Y003000",
		"M30",
	}, "\n")
	got := Merge([]string{in})
	want := strings.Join([]string{
		"M48",
		"METRIC,LZ,000.000",
		"T01C1.200",
		"T02C0.600",
		"%",
		"G05",
		"G90",
		"T01",
		"X001000Y001000",
		"X002000Y002000",
		"T02",
		"X003000Y003000",
		"",
	}, "\n")
	if got != want {
		t.Fatalf("Merge() = %q, want %q", got, want)
	}
}

func TestMergeEveryCoordinateOnceWithMaxDiameter(t *testing.T) {
	files := []string{
		"T1C0.500\nT2C0.900\nT1\nX1Y1\nX2Y2\nT2\nX3Y3\n",
		"T1C0.700\nT1\nX1Y1\nX3Y3\nX4Y4\n",
		"T5C0.300\nT5\nX2Y2\nX4Y4\n",
	}
	recs := NewRecords()
	for _, f := range files {
		recs = Collect(recs, f)
	}
	if got, want := recs.Coordinates(), []string{"X1Y1", "X2Y2", "X3Y3", "X4Y4"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Coordinates() = %v, want %v", got, want)
	}

	tests := []struct {
		coord string
		want  string
	}{
		{"X1Y1", "0.700"},
		{"X2Y2", "0.500"},
		{"X3Y3", "0.900"},
		{"X4Y4", "0.700"},
	}
	out := Merge(files)
	for _, tt := range tests {
		t.Run(tt.coord, func(t *testing.T) {
			got, ok := recs.Diameter(tt.coord)
			if !ok || got != tt.want {
				t.Fatalf("Diameter(%s) = (%q, %v), want (%q, true)", tt.coord, got, ok, tt.want)
			}
			if n := strings.Count(out, tt.coord+"\n"); n != 1 {
				t.Fatalf("Merge() drills %s %d times, want once", tt.coord, n)
			}
		})
	}
}

func TestCollect(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  []string
	}{
		{"skips unattributed coordinates", []string{"X9Y9\nT01\nX8Y8\nT01C0.400\nX7Y7\nT01\nX6Y6\n"}, []string{"X6Y6"}},
		{"tool table is file local", []string{"T01C0.800\nT01\nX1Y1\n", "T01\nX2Y2\n"}, []string{"X1Y1"}},
		{"trims carriage return", []string{"T01C0.800\r\nT01\r\nX1Y1\r\n"}, []string{"X1Y1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := NewRecords()
			for _, f := range tt.files {
				recs = Collect(recs, f)
			}
			if got := recs.Coordinates(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Coordinates() = %v, want %v", got, tt.want)
			}
		})
	}

	recs := Collect(NewRecords(), "T01C0.800\r\nT01\r\nX1Y1\r\n")
	if d, ok := recs.Diameter("X1Y1"); !ok || d != "0.800" {
		t.Fatalf("Diameter(X1Y1) = (%q, %v), want (\"0.800\", true)", d, ok)
	}
}

func TestResolveNumbersToolsByFirstSeenDiameter(t *testing.T) {
	recs := Collect(NewRecords(), "T1C2.000\nT2C1.000\nT2\nX1Y1\nT1\nX2Y2\nT2\nX3Y3\n")
	got := Resolve(recs)
	want := ToolTable{
		{Number: 1, Diameter: "1.000", Coordinates: []string{"X1Y1", "X3Y3"}},
		{Number: 2, Diameter: "2.000", Coordinates: []string{"X2Y2"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve() = %+v, want %+v", got, want)
	}
}

func TestMergeDirExcludesConsolidatedFile(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"Drill_PTH_Through.DRL":  "T01C0.800\nT01\nX1Y1\n",
		"Drill_NPTH_Through.drl": "T01C3.000\nT01\nX2Y2\n",
		ConsolidatedName:         "T01C9.000\nT01\nX3Y3\n",
		"Gerber_TopLayer.GTL":    "X4Y4\n",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	out, names, err := MergeDir(dir)
	if err != nil {
		t.Fatalf("MergeDir() error = %v", err)
	}
	if want := []string{"Drill_NPTH_Through.drl", "Drill_PTH_Through.DRL"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("MergeDir() inputs = %v, want %v", names, want)
	}
	if !strings.Contains(out, "T01C3.000\nT02C0.800\n") {
		t.Fatalf("MergeDir() tool table wrong:\n%s", out)
	}
	for _, coord := range []string{"X3Y3", "X4Y4"} {
		if strings.Contains(out, coord) {
			t.Fatalf("MergeDir() output contains %s", coord)
		}
	}
}
