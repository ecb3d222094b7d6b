package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"denull/internal/arch"
	"denull/internal/denull/log"
	"denull/internal/elfx"
	"denull/internal/engine"
	"denull/internal/report"
	"denull/internal/strategy"
)

func init() {
	rootCmd.PersistentFlags().StringP("arch", "a", "x86", "Target architecture (x86, x64, arm, arm64)")
	rootCmd.PersistentFlags().StringP("bad-bytes", "b", "00", "Comma-separated hex bytes forbidden in the output")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to a file instead of stderr")
	rootCmd.PersistentFlags().Bool("raw", false, "Treat the input as raw code even when it is an ELF object")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().BoolP("no-tui", "n", false, "Show summary without TUI")
	rootCmd.Flags().BoolP("full", "f", false, "Show full before/after listings (use with --no-tui)")
	rootCmd.Flags().BoolP("json", "j", false, "Output a JSON report for regression testing")
	rootCmd.Flags().StringP("output", "o", "", "Write the rewritten payload to a file")
	rootCmd.Flags().Int("max-iterations", 0, "Iteration bound for the rewrite loop (0 = derive from input)")
	rootCmd.Flags().String("weights", "", "JSON weight table for tie-breaking between equal-priority strategies")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")

	rootCmd.AddCommand(checkCmd)
}

var rootCmd = &cobra.Command{
	Use:   "denull [file]",
	Short: "Terminal-based shellcode bad-byte remover",
	Long: `Denull rewrites a raw machine-code payload so that no byte of a
forbidden set appears in the output, while preserving the payload's
execution semantics. It provides an interactive TUI for comparing the
payload before and after the rewrite.`,
	Example: `
# Rewrite an x86 payload, viewing the result interactively
denull /path/to/payload.bin

# Rewrite an ARM64 payload avoiding NUL, CR and LF, writing the result
denull -a arm64 -b 00,0d,0a -o clean.bin /path/to/payload.bin

# Emit a JSON report for scripting
denull -j /path/to/payload.bin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %v", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %v", err)
			}
			defer pprof.StopCPUProfile()
		}

		req, err := requestFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		noTUI, _ := cmd.Flags().GetBool("no-tui")
		showFull, _ := cmd.Flags().GetBool("full")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		// --full implies --no-tui
		if showFull {
			noTUI = true
		}

		// Also use no-tui mode when output is being piped
		if !term.IsTerminal(os.Stdout.Fd()) {
			noTUI = true
			os.Setenv("DENULL_NO_COLOR", "1")
		}

		if jsonOutput {
			return runJSON(req)
		}

		if noTUI {
			return runNoTUI(req, showFull)
		}

		// Set up the TUI.
		program := tea.NewProgram(
			NewModel(req),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
			// Mouse tracking disabled to allow native text selection
		)

		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

// request carries everything one rewrite run needs.
type request struct {
	path    string
	code    []byte
	arch    arch.Architecture
	bad     arch.BadBytes
	output  string
	maxIter int
	scorer  strategy.Scorer
}

func requestFromFlags(cmd *cobra.Command, path string) (*request, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	logFile, _ := cmd.Flags().GetString("log-file")
	log.Setup(logFile, debug)

	archName, _ := cmd.Flags().GetString("arch")
	a, err := arch.Parse(archName)
	if err != nil {
		return nil, err
	}

	badSpec, _ := cmd.Flags().GetString("bad-bytes")
	bad, err := arch.ParseBadBytes(badSpec)
	if err != nil {
		return nil, err
	}

	code, a, err := loadPayload(cmd, path, a)
	if err != nil {
		return nil, err
	}

	req := &request{path: path, code: code, arch: a, bad: bad}
	req.output, _ = cmd.Flags().GetString("output")
	req.maxIter, _ = cmd.Flags().GetInt("max-iterations")

	if weights, _ := cmd.Flags().GetString("weights"); weights != "" {
		table, err := strategy.LoadWeightTable(weights)
		if err != nil {
			return nil, err
		}
		req.scorer = table
	}

	slog.Debug("Rewrite request",
		"file", path, "arch", a.String(), "bad", bad.String(), "len", len(code))
	return req, nil
}

// loadPayload reads the input file, pulling the code out of an ELF
// object unless --raw forces byte-for-byte interpretation. The ELF
// machine field overrides the default architecture but never an
// explicit --arch.
func loadPayload(cmd *cobra.Command, path string, a arch.Architecture) ([]byte, arch.Architecture, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, a, fmt.Errorf("read payload: %w", err)
	}
	raw, _ := cmd.Flags().GetBool("raw")
	if raw || !elfx.IsELF(code) {
		return code, a, nil
	}
	p, err := elfx.Extract(path)
	if err != nil {
		return nil, a, err
	}
	if p.ArchOK && !cmd.Flags().Changed("arch") {
		a = p.Arch
	}
	slog.Debug("Extracted code from ELF", "section", p.Section, "len", len(p.Code), "arch", a.String())
	return p.Code, a, nil
}

func (r *request) transform() (*engine.Result, error) {
	return engine.Transform(r.code, r.arch, engine.Options{
		Bad:           r.bad,
		MaxIterations: r.maxIter,
		Scorer:        r.scorer,
	})
}

func (r *request) writeOutput(out []byte) error {
	if r.output == "" {
		return nil
	}
	if err := os.WriteFile(r.output, out, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("Wrote rewritten payload", "file", r.output, "len", len(out))
	return nil
}

func runJSON(req *request) error {
	res, err := req.transform()

	var rep *report.Report
	switch e := err.(type) {
	case nil:
		rep = report.New(req.code, req.arch, req.bad, res)
	case *engine.UnresolvedError:
		rep = report.NewFailure(req.code, req.arch, req.bad, e)
	default:
		return err
	}

	b, err := rep.Marshal()
	if err != nil {
		return err
	}
	fmt.Println(string(b))

	if res != nil {
		return req.writeOutput(res.Output)
	}
	return nil
}

func Execute() {
	// Don't auto-disable colors when piping - let user control with DENULL_NO_COLOR env var

	// Check if --no-tui or --full flag is present, or if output is being piped
	// to bypass fang's markdown rendering
	noTUI := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "--full" || arg == "-f" {
			noTUI = true
			break
		}
	}

	// Also bypass fang when output is being piped
	if !noTUI && !term.IsTerminal(os.Stdout.Fd()) {
		noTUI = true
	}

	if noTUI {
		// Use cobra directly to avoid fang's automatic markdown rendering
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
	} else {
		// Use fang for enhanced CLI experience with markdown rendering
		if err := fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		); err != nil {
			os.Exit(1)
		}
	}
}
