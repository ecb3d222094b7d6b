package cmd

import (
	"fmt"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"denull/internal/denull/log"
)

var logsCmd = &cobra.Command{
	Use:   "logs [file]",
	Short: "Follow the denull log file",
	Long: `Follow a denull log file as it grows, like tail -f. With no
argument it follows the file configured via --log-file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			logFile, _ := cmd.Flags().GetString("log-file")
			debug, _ := cmd.Flags().GetBool("debug")
			log.Setup(logFile, debug)
			path = log.Path()
		}
		if path == "" {
			return fmt.Errorf("no log file configured; pass a path or set --log-file")
		}

		t, err := tail.TailFile(path, tail.Config{
			Follow: true,
			ReOpen: true,
			Logger: tail.DiscardingLogger,
		})
		if err != nil {
			return fmt.Errorf("tail %s: %w", path, err)
		}
		defer t.Cleanup()

		for {
			select {
			case line, ok := <-t.Lines:
				if !ok {
					return t.Err()
				}
				if line.Err != nil {
					return line.Err
				}
				fmt.Println(line.Text)
			case <-cmd.Context().Done():
				return t.Stop()
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
}
