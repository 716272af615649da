package gcode

import (
	"reflect"
	"slices"
	"strings"
	"testing"
)

func TestMergeConcatenatesMillingSegments(t *testing.T) {
	got := Merge([]string{
		"A\n(Retract to tool change height)\nM3\nMOVE1\nM5\nEND\n",
		"A2\n(Retract to tool change height)\nM3\nMOVE2\nM5\nEND2\n",
	})
	want := "A\n(Retract to tool change height)\nM3\nMOVE1\nM3\nMOVE2\nM5\nEND\n"
	if got != want {
		t.Fatalf("Merge() = %q, want %q", got, want)
	}
}

func TestStepTransitions(t *testing.T) {
	tests := []struct {
		name      string
		state     State
		line      string
		wantState State
		wantSeg   Segment
	}{
		{"init stays", StateInit, "G21", StateInit, StateInit},
		{"retract closes init", StateInit, "G0 Z10 (Retract to tool change height)", StateToolChange, StateInit},
		{"tool change body", StateToolChange, "T1", StateToolChange, StateToolChange},
		{"spindle on opens milling", StateToolChange, "M3 S10000", StateMilling, StateMilling},
		{"M3 in init is payload", StateInit, "M3", StateInit, StateInit},
		{"milling body", StateMilling, "G1 X1 Y1", StateMilling, StateMilling},
		{"spindle off opens finish", StateMilling, "M5", StateFinish, StateFinish},
		{"finish absorbs", StateFinish, "M3", StateFinish, StateFinish},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotState, gotSeg := Step(tt.state, tt.line)
			if gotState != tt.wantState || gotSeg != tt.wantSeg {
				t.Fatalf("Step(%v, %q) = (%v, %v), want (%v, %v)", tt.state, tt.line, gotState, gotSeg, tt.wantState, tt.wantSeg)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Program
	}{
		{
			name: "no markers keeps everything in init",
			in:   "G21\nG90\nM3\nG1 X1\n",
			want: Program{Init: []string{"G21", "G90", "M3", "G1 X1", ""}},
		},
		{
			name: "stops in milling without spindle off",
			in:   "A\n(Retract to tool change height)\nT1\nM3\nG1 X1",
			want: Program{
				Init:       []string{"A", "(Retract to tool change height)"},
				ToolChange: []string{"T1"},
				Milling:    []string{"M3", "G1 X1"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.in)
			for _, seg := range []struct {
				name      string
				got, want []string
			}{
				{"Init", got.Init, tt.want.Init},
				{"ToolChange", got.ToolChange, tt.want.ToolChange},
				{"Milling", got.Milling, tt.want.Milling},
				{"Finish", got.Finish, tt.want.Finish},
			} {
				if len(seg.got) == 0 && len(seg.want) == 0 {
					continue
				}
				if !reflect.DeepEqual(seg.got, seg.want) {
					t.Fatalf("Split(%q).%s = %q, want %q", tt.in, seg.name, seg.got, seg.want)
				}
			}
		})
	}
}

func TestMergeLineCountAndNoToolChange(t *testing.T) {
	contents := []string{
		"I1\nI2\n(Retract to tool change height)\nTC-a\nTC-b\nM3\nG1 X1\nG1 X2\nM5\nM2\n",
		"J1\n(Retract to tool change height)\nTC-c\nM3\nG1 X3\nM5\n",
		"K1\n(Retract to tool change height)\nM3\nG1 X4\nG1 X5\nG1 X6",
	}
	progs := make([]Program, 0, len(contents))
	want := 0
	for i, c := range contents {
		p := Split(c)
		progs = append(progs, p)
		want += len(p.Milling)
		if i == 0 {
			want += len(p.Init) + len(p.Finish)
		}
	}
	lines := strings.Split(Merge(contents), "\n")
	if len(lines) != want {
		t.Fatalf("Merge() has %d lines, want %d", len(lines), want)
	}
	for _, p := range progs {
		for _, tc := range p.ToolChange {
			if slices.Contains(lines, tc) {
				t.Fatalf("Merge() kept tool-change line %q", tc)
			}
		}
	}
}

func TestMergeSingleFileDropsToolChange(t *testing.T) {
	in := "I\n(Retract to tool change height)\nT1\nM6\nM3\nG1 X1\nM5\nM2"
	want := "I\n(Retract to tool change height)\nM3\nG1 X1\nM5\nM2"
	if got := Merge([]string{in}); got != want {
		t.Fatalf("Merge() = %q, want %q", got, want)
	}
}

func TestMergeEmpty(t *testing.T) {
	if got := Merge(nil); got != "" {
		t.Fatalf("Merge(nil) = %q, want empty", got)
	}
}

func TestMergeGroupsByDiameter(t *testing.T) {
	mk := func(move string) string {
		return "I\n(Retract to tool change height)\nM3\n" + move + "\nM5\nE"
	}
	groups := MergeGroups([]Part{
		{Name: "back.ngc", Diameter: 0.2, Content: mk("B")},
		{Name: "milldrill.ngc", Diameter: 0.8, Content: mk("D")},
		{Name: "outline.ngc", Diameter: 0.8, Content: mk("O")},
	})
	if len(groups) != 2 {
		t.Fatalf("MergeGroups() returned %d groups, want 2", len(groups))
	}
	if got := groups[0].Names; !reflect.DeepEqual(got, []string{"back.ngc"}) {
		t.Fatalf("groups[0].Names = %v, want [back.ngc]", got)
	}
	if got := groups[1].Names; !reflect.DeepEqual(got, []string{"milldrill.ngc", "outline.ngc"}) {
		t.Fatalf("groups[1].Names = %v, want [milldrill.ngc outline.ngc]", got)
	}
	want := "I\n(Retract to tool change height)\nM3\nD\nM3\nO\nM5\nE"
	if groups[1].Content != want {
		t.Fatalf("groups[1].Content = %q, want %q", groups[1].Content, want)
	}
}
