package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pcbmill/internal/drill"
	"pcbmill/internal/gcode"
	"pcbmill/internal/safeio"
)

var (
	mergeDrillOut string
	mergeGCodeOut string
)

var mergeDrillCmd = &cobra.Command{
	Use:   "merge-drill <file>...",
	Short: "Merge Excellon drill files into one",
	Long: `Combines drill files into a single program. A coordinate drilled in
several files keeps the largest diameter; tools are renumbered T01, T02, ...
in order of first use.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contents, err := readAll(args)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), mergeDrillOut, drill.Merge(contents))
	},
}

var mergeGCodeCmd = &cobra.Command{
	Use:   "merge-gcode <file>...",
	Short: "Merge G-code programs into one",
	Long: `Concatenates toolpath programs. The preamble and program end come from
the first input, the milling blocks of every input follow in order, and
tool-change blocks are dropped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contents, err := readAll(args)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), mergeGCodeOut, gcode.Merge(contents))
	},
}

func init() {
	mergeDrillCmd.Flags().StringVarP(&mergeDrillOut, "output", "o", "", "output file (default stdout)")
	mergeGCodeCmd.Flags().StringVarP(&mergeGCodeOut, "output", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(mergeDrillCmd, mergeGCodeCmd)
}

func readAll(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		out = append(out, string(b))
	}
	return out, nil
}

func emit(stdout io.Writer, path, content string) error {
	if path == "" {
		_, err := io.WriteString(stdout, content)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return safeio.WriteFileAtomic(path, []byte(content), 0o644)
}
