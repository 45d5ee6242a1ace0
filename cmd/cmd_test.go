package cmd

import (
	"bytes"
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netprobe/internal/config"
	"firestige.xyz/netprobe/internal/runner"
	"firestige.xyz/netprobe/internal/violation"
)

// MockProber implements Prober
type MockProber struct {
	mock.Mock
}

func (m *MockProber) Run(ctx context.Context, cfg *config.Config) runner.Report {
	args := m.Called(ctx, cfg)
	return args.Get(0).(runner.Report)
}

func (m *MockProber) Learn(ctx context.Context, cfg *config.Config, rounds int) (runner.Baseline, runner.Report) {
	args := m.Called(ctx, cfg, rounds)
	return args.Get(0).(runner.Baseline), args.Get(1).(runner.Report)
}

func passing() runner.Report {
	return runner.Report{Results: []runner.Result{
		{Protocol: runner.ProtocolDHCP, Replies: 1},
		{Protocol: runner.ProtocolARP, Replies: 2},
	}}
}

func failing() runner.Report {
	return runner.Report{Results: []runner.Result{
		{Protocol: runner.ProtocolDHCP, Violations: violation.List{
			violation.NewInvalidDNSServer("DHCP", netip.MustParseAddr("10.0.0.99")),
		}},
		{Protocol: runner.ProtocolARP, Violations: violation.List{
			violation.NewInvalidARP("ARP", netip.MustParseAddr("10.0.0.1"), "00:11:22:33:44:77"),
		}},
	}}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netprobe.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// execute runs the root command with args and a mocked prober.
func execute(t *testing.T, p Prober, args ...string) (int, string) {
	t.Helper()
	return executeWith(t, context.Background(), p, args...)
}

func executeWith(t *testing.T, ctx context.Context, p Prober, args ...string) (int, string) {
	t.Helper()
	SetProber(p)
	only, verbose, timeout, metricsFile = nil, 0, 0, ""
	t.Cleanup(func() { SetProber(nil) })

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(args)
	return executeContext(ctx), buf.String()
}

func TestRunCheck_Success(t *testing.T) {
	m := new(MockProber)
	m.On("Run", mock.Anything, mock.Anything).Return(passing())

	var buf bytes.Buffer
	code := runCheck(context.Background(), m, &config.Config{}, &buf)

	assert.Equal(t, runner.ExitOK, code)
	assert.Equal(t, "All tests succeeded\n", buf.String())
	m.AssertExpectations(t)
}

func TestRunCheck_Violations(t *testing.T) {
	m := new(MockProber)
	m.On("Run", mock.Anything, mock.Anything).Return(failing())

	var buf bytes.Buffer
	code := runCheck(context.Background(), m, &config.Config{}, &buf)

	assert.Equal(t, runner.ExitViolations, code)
	assert.Equal(t, "DHCP: Invalid DNS Server: 10.0.0.99\nARP: Invalid ARP response: 10.0.0.1 -> 00:11:22:33:44:77\n", buf.String())
	m.AssertExpectations(t)
}

func TestRunLearn_WritesBaseline(t *testing.T) {
	baseline := runner.Baseline{
		DHCP: &config.DHCPConfig{Interface: "eth0", Gateways: []string{"10.0.0.254"}},
	}
	m := new(MockProber)
	m.On("Learn", mock.Anything, mock.Anything, 2).Return(baseline, passing())

	var out, report bytes.Buffer
	code, err := runLearn(context.Background(), m, &config.Config{}, 2, &out, &report)

	require.NoError(t, err)
	assert.Equal(t, runner.ExitOK, code)
	assert.Contains(t, out.String(), "dhcp:")
	assert.Contains(t, out.String(), "10.0.0.254")
	assert.NotContains(t, out.String(), "arp:")
	assert.Equal(t, "All tests succeeded\n", report.String())
	m.AssertExpectations(t)
}

func TestRunValidate(t *testing.T) {
	var buf bytes.Buffer
	valid := writeConfig(t, `{"arp": {"interface": "eth0", "resolvers": {"10.0.0.1": "00:11:22:33:44:55"}}}`)
	assert.Equal(t, runner.ExitOK, runValidate(valid, &buf))
	assert.Contains(t, buf.String(), `VALID: arp on "eth0" with 1 resolver(s)`)

	buf.Reset()
	invalid := writeConfig(t, `{"dhcp": {"gateways": ["nope"]}}`)
	assert.Equal(t, runner.ExitViolations, runValidate(invalid, &buf))
	assert.Contains(t, buf.String(), "INVALID:")

	buf.Reset()
	assert.Equal(t, runner.ExitUnreadable, runValidate(filepath.Join(t.TempDir(), "missing.conf"), &buf))
}

func TestExecute_UnreadableConfig(t *testing.T) {
	m := new(MockProber)
	code, _ := execute(t, m, "-c", filepath.Join(t.TempDir(), "missing.conf"))

	assert.Equal(t, runner.ExitUnreadable, code)
	m.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestExecute_InvalidConfig(t *testing.T) {
	m := new(MockProber)
	code, _ := execute(t, m, "check", "-c", writeConfig(t, `{"arp": {"resolvers": {"10.0.0.1": "bad"}}}`))

	assert.Equal(t, runner.ExitUnreadable, code)
	m.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestExecute_CheckAppliesFlags(t *testing.T) {
	path := writeConfig(t, `{"arp": {"interface": "eth0"}}`)
	textfile := filepath.Join(t.TempDir(), "netprobe.prom")

	m := new(MockProber)
	m.On("Run", mock.Anything, mock.MatchedBy(func(cfg *config.Config) bool {
		return cfg.ARP.Interface == "eth0" && cfg.Capture.ReadTimeout.Seconds() == 5
	})).Return(failing())

	code, out := execute(t, m, "-c", path, "-t", "5", "--metrics-file", textfile)

	assert.Equal(t, runner.ExitViolations, code)
	assert.Contains(t, out, "DHCP: Invalid DNS Server: 10.0.0.99")
	assert.FileExists(t, textfile)
	m.AssertExpectations(t)
}

func TestExecute_UnknownProtocol(t *testing.T) {
	m := new(MockProber)
	code, _ := execute(t, m, "--only", "icmp", "-c", writeConfig(t, `{}`))

	assert.Equal(t, runner.ExitViolations, code)
	m.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestExecute_Learn(t *testing.T) {
	path := writeConfig(t, `{"arp": {"interface": "eth0"}}`)
	output := filepath.Join(t.TempDir(), "baseline.yaml")
	baseline := runner.Baseline{ARP: &config.ARPConfig{
		Interface: "eth0",
		Resolvers: map[string]string{"10.0.0.1": "00:11:22:33:44:55"},
	}}

	m := new(MockProber)
	m.On("Learn", mock.Anything, mock.Anything, 1).Return(baseline, passing())

	code, _ := execute(t, m, "learn", "-c", path, "--output", output)
	require.Equal(t, runner.ExitOK, code)

	cfg, err := config.Load(output)
	require.NoError(t, err)
	assert.Equal(t, baseline.ARP.Resolvers, cfg.ARP.Resolvers)
	m.AssertExpectations(t)
}

func TestExecute_LearnInterruptedKeepsBaseline(t *testing.T) {
	path := writeConfig(t, `{"arp": {"interface": "eth0"}}`)
	dir := t.TempDir()
	output := filepath.Join(dir, "baseline.yaml")
	previous := []byte("arp:\n  interface: eth0\n")
	require.NoError(t, os.WriteFile(output, previous, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := new(MockProber)
	m.On("Learn", mock.Anything, mock.Anything, 1).
		Run(func(mock.Arguments) { cancel() }).
		Return(runner.Baseline{ARP: &config.ARPConfig{Interface: "eth0"}}, passing())

	code, _ := executeWith(t, ctx, m, "learn", "-c", path, "--output", output)

	assert.Equal(t, runner.ExitViolations, code)
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, previous, data)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	m.AssertExpectations(t)
}

func TestReplaceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "baseline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	require.NoError(t, replaceFile(path, []byte("new")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Error(t, replaceFile(filepath.Join(dir, "missing", "baseline.yaml"), []byte("new")))
}
