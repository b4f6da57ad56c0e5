package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/satchel/internal/capture"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List capture backends available on this platform",
	Run: func(cmd *cobra.Command, args []string) {
		runBackends(os.Stdout)
	},
}

func runBackends(w io.Writer) {
	for _, name := range capture.Available() {
		note := ""
		if capture.RequiresPrivilege(name) {
			note = " (requires elevated privileges)"
		}
		fmt.Fprintf(w, "%s%s\n", name, note)
	}
}
