package cmd

import (
	"errors"
	"fmt"
	"strings"

	"denull/internal/engine"
	"denull/internal/listing"
	"denull/internal/ui/colorize"
)

// runNoTUI performs the rewrite and prints a plain-text summary. With
// showFull it also prints the before and after listings.
func runNoTUI(req *request, showFull bool) error {
	res, err := req.transform()
	if err != nil {
		var uerr *engine.UnresolvedError
		if errors.As(err, &uerr) {
			fmt.Println(unresolvedSummary(uerr))
			return fmt.Errorf("%d instruction(s) could not be cleaned", len(uerr.Instructions))
		}
		return err
	}

	fmt.Print(runSummary(req, res))

	if showFull {
		before, err := listingText(req.code, req)
		if err == nil {
			fmt.Printf("\nBefore (%d bytes):\n%s", len(req.code), before)
		}
		after, err := listingText(res.Output, req)
		if err == nil {
			fmt.Printf("\nAfter (%d bytes):\n%s", len(res.Output), after)
		}
	}

	return req.writeOutput(res.Output)
}

func runSummary(req *request, res *engine.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s, bad bytes %s\n", req.path, req.arch, req.bad)
	fmt.Fprintf(&sb, "%d -> %d bytes in %d iteration(s), %d rewrite(s)\n",
		len(req.code), len(res.Output), res.Iterations, len(res.Rewrites))
	for _, rw := range res.Rewrites {
		fmt.Fprintf(&sb, "  %06x  %-28s %s (%d -> %d bytes)\n",
			rw.Offset, rw.Op, rw.Strategy, rw.OldLen, rw.NewLen)
	}
	return sb.String()
}

func unresolvedSummary(uerr *engine.UnresolvedError) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "unresolved after iteration bound:\n")
	for _, u := range uerr.Instructions {
		fmt.Fprintf(&sb, "  %06x  %-28s (%d candidate strategies tried)\n",
			u.Offset, u.Op, u.Candidates)
	}
	return sb.String()
}

// listingText disassembles a buffer and renders it, colorized when the
// terminal allows it. Listing addresses stay payload-relative.
func listingText(code []byte, req *request) (string, error) {
	lines, err := listing.Disassemble(code, req.arch, req.bad)
	if err != nil {
		return "", err
	}
	return colorize.Listing(listing.Render(lines), req.arch)
}
