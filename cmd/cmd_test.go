package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	out, err := run(t, "plan", "-f", "../example/exercise02.yaml", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "# r2\n")
	assert.Contains(t, out, "ip route add 10.0.4.0/24 via 10.0.3.2 dev r2-eth1\n")
	assert.Contains(t, out, "ip route add default via 10.0.1.1 dev h1-eth0\n")
}

func TestShowCommand(t *testing.T) {
	out, err := run(t, "show", "-f", "../example/exercise03_02.yaml", "--class", "rules", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "fwmark 0x2 lookup 2")

	_, err = run(t, "show", "-f", "../example/exercise03_02.yaml", "--class", "bogus", "--log-level", "error")
	assert.Error(t, err)
}

func TestTraceCommand(t *testing.T) {
	out, err := run(t, "trace", "-f", "../example/exercise03_02.yaml", "--node", "h1",
		"--to", "10.0.7.2", "--proto", "tcp", "--source", "", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, " 1  h1 -> r4 via 10.0.4.2 dev h1-eth1 (table 2)\n")
	assert.Contains(t, out, "delivered at h2\n")

	_, err = run(t, "trace", "-f", "../example/exercise03_02.yaml", "--node", "h1",
		"--to", "not-an-ip", "--proto", "tcp", "--source", "", "--log-level", "error")
	assert.Error(t, err)
}

func TestApplyCommandDryRun(t *testing.T) {
	out, err := run(t, "apply", "-f", "../example/exercise03_01.yaml", "--detach",
		"--backend", "dry-run", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, " 0 failed\n")
}

func TestInvalidLogFormat(t *testing.T) {
	_, err := run(t, "plan", "-f", "../example/exercise01.yaml", "--log-level", "error", "--log-format", "xml")
	assert.Error(t, err)
	_, err = run(t, "plan", "-f", "../example/exercise01.yaml", "--log-format", "console")
	assert.NoError(t, err)
}
