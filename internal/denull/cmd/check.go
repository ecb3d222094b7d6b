package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"denull/internal/arch"
	"denull/internal/denull/log"
	"denull/internal/listing"
)

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Scan a payload for bad bytes without rewriting it",
	Long: `Check disassembles a payload and lists the instructions whose
encodings contain a forbidden byte. Nothing is rewritten.`,
	Example: `
# Find NUL-carrying instructions in an x64 payload
denull check -a x64 /path/to/payload.bin

# Quiet mode prints only the offending offsets
denull check -q -b 00,0a /path/to/payload.bin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		logFile, _ := cmd.Flags().GetString("log-file")
		log.Setup(logFile, debug)

		archName, _ := cmd.Flags().GetString("arch")
		a, err := arch.Parse(archName)
		if err != nil {
			return err
		}
		badSpec, _ := cmd.Flags().GetString("bad-bytes")
		bad, err := arch.ParseBadBytes(badSpec)
		if err != nil {
			return err
		}
		quiet, _ := cmd.Flags().GetBool("quiet")

		code, a, err := loadPayload(cmd, args[0], a)
		if err != nil {
			return err
		}

		lines, err := listing.Disassemble(code, a, bad)
		if err != nil {
			return err
		}

		flagged := 0
		for _, line := range lines {
			if line.Annotation == "" {
				continue
			}
			flagged++
			if quiet {
				fmt.Printf("%06x\n", line.Addr)
			} else {
				fmt.Println(line.String())
			}
		}

		slog.Debug("Check finished",
			"file", args[0], "instructions", len(lines), "flagged", flagged)
		if !quiet {
			fmt.Printf("%d of %d instruction(s) carry bad bytes\n", flagged, len(lines))
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolP("quiet", "q", false, "Print only offending offsets")
}
