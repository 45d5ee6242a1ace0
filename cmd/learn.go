package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"firestige.xyz/netprobe/internal/config"
	"firestige.xyz/netprobe/internal/runner"
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Record what the segment answers as a new baseline",
	Long: `Run one probe round in learn mode, recording first-seen servers, networks,
gateways, DNS servers and IP to MAC bindings, then verify the result with the
given number of rounds. The baseline is written in config file shape.

Examples:
  netprobe learn --output baseline.yaml
  netprobe learn --only arp --rounds 3 --output -`,
	RunE: runLearnCommand,
}

var (
	learnOutput string
	learnRounds int
)

func init() {
	learnCmd.Flags().StringVarP(&learnOutput, "output", "o", "baseline.yaml",
		"baseline file, - for stdout")
	learnCmd.Flags().IntVar(&learnRounds, "rounds", 1,
		"verification rounds after learning")
}

func runLearnCommand(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.flush()

	ctx := cmd.Context()
	var buf bytes.Buffer
	code, err := runLearn(ctx, s.prober(), s.cfg, learnRounds, &buf, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	// an interrupted run learned only part of the segment
	if err := ctx.Err(); err != nil {
		return &exitError{code: runner.ExitViolations, err: fmt.Errorf("learn interrupted, baseline not written: %w", err)}
	}
	if learnOutput == "-" {
		_, err = buf.WriteTo(cmd.OutOrStdout())
	} else {
		err = replaceFile(learnOutput, buf.Bytes())
	}
	if err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	return exitCode(code)
}

// replaceFile writes data next to path and renames it over path, so path
// holds either the old or the new content.
func replaceFile(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// runLearn writes the baseline to out and the verification report to report.
func runLearn(ctx context.Context, p Prober, cfg *config.Config, rounds int, out, report io.Writer) (int, error) {
	baseline, res := p.Learn(ctx, cfg, rounds)
	if err := config.WriteBaseline(out, baseline.ARP, baseline.DHCP); err != nil {
		return runner.ExitViolations, err
	}
	for _, line := range res.Lines() {
		fmt.Fprintln(report, line)
	}
	return res.ExitCode(), nil
}
