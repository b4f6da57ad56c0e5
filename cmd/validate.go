package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/gamedata"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file and the game data catalog it
references, without capturing.

Examples:
  satchel validate -c satchel.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(configFile, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

func runValidate(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	catalog, err := gamedata.Load(cfg.Export.GameData)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "VALID: backend %s, ports %d-%d, %d character(s), %d weapon(s), %d artifact(s) in catalog\n",
		cfg.Capture.Backend,
		cfg.Capture.PortRange.Min,
		cfg.Capture.PortRange.Max,
		len(catalog.Characters),
		len(catalog.Weapons),
		len(catalog.Artifacts),
	)
	return nil
}
