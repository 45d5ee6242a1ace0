package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/netprobe/internal/config"
	"firestige.xyz/netprobe/internal/runner"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without touching the network.

File format is detected from the extension (.json, .yaml, .yml, .toml); any
other extension is read as JSON.

Examples:
  netprobe validate -f /etc/netprobe.conf
  netprobe validate -f baseline.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := validateConfigFile
		if path == "" {
			path = configFile
		}
		return exitCode(runValidate(path, cmd.OutOrStdout()))
	},
}

var validateConfigFile string

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "file", "f", "",
		"configuration file to validate (default from --config)")
}

func runValidate(path string, w io.Writer) int {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(w, "INVALID: %v\n", err)
		if errors.Is(err, config.ErrUnreadable) {
			return runner.ExitUnreadable
		}
		return runner.ExitViolations
	}

	fmt.Fprintf(w, "VALID: arp on %q with %d resolver(s); dhcp on %q with %d server(s), %d range(s), %d gateway(s), %d DNS server(s)\n",
		cfg.ARP.Interface, len(cfg.ARP.Resolvers),
		cfg.DHCP.Interface, len(cfg.DHCP.Servers), len(cfg.DHCP.Ranges),
		len(cfg.DHCP.Gateways), len(cfg.DHCP.DNSServers),
	)
	return runner.ExitOK
}
