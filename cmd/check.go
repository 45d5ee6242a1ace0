package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/netprobe/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe DHCP and ARP and report violations (default)",
	Long: `Send one DHCPDISCOVER and one ARP request per configured resolver, then
print every reply that breaks the configured policy.

Examples:
  netprobe check -c /etc/netprobe.conf
  netprobe check --only dhcp -vvv`,
	RunE: runCheckCommand,
}

func runCheckCommand(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	code := runCheck(cmd.Context(), s.prober(), s.cfg, cmd.OutOrStdout())
	s.flush()
	return exitCode(code)
}

// runCheck prints one line per finding, or the success line, and returns the
// exit code.
func runCheck(ctx context.Context, p Prober, cfg *config.Config, w io.Writer) int {
	report := p.Run(ctx, cfg)
	for _, line := range report.Lines() {
		fmt.Fprintln(w, line)
	}
	return report.ExitCode()
}
