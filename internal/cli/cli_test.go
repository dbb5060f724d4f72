package cli

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pipefeed/internal/config"
	"github.com/GriffinCanCode/pipefeed/internal/record"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "pipefeed dev "), out)

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, sonic.UnmarshalString(out, &info))
	assert.Equal(t, "dev", info["version"])
}

func TestList(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	out, err := execute(t, "list", "--pattern", "*.txt", root)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 1)
	rec, err := record.Decode(lines[0])
	require.NoError(t, err)
	assert.Equal(t, record.Record{Path: "a.txt", Size: 5, Kind: "file"}, rec)
}

func TestListRejectsBadPattern(t *testing.T) {
	_, err := execute(t, "list", "--pattern", "[", t.TempDir())
	assert.Error(t, err)
}

func TestRunChildToFile(t *testing.T) {
	requireShell(t)
	out := filepath.Join(t.TempDir(), "records.jsonl")

	_, err := execute(t, "run", "--format", "json", "-o", out, "--log-level", "error", "--",
		"sh", "-c", `printf '/a/b/c.txt\t42\tfile\nbad\n/x/y\t5\tdir\n'`)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)

	var got record.Record
	require.NoError(t, sonic.UnmarshalString(lines[1], &got))
	assert.Equal(t, record.Record{Path: "y", Size: 5, Kind: "dir"}, got)
}

func TestRunChildExitStatus(t *testing.T) {
	requireShell(t)
	out := filepath.Join(t.TempDir(), "records.txt")

	_, err := execute(t, "run", "-o", out, "--log-level", "error", "--", "sh", "-c", "exit 4")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 4, exitErr.ExitCode())
}

func TestRunMissingChild(t *testing.T) {
	out := filepath.Join(t.TempDir(), "records.txt")
	_, err := execute(t, "run", "-o", out, "--log-level", "error", "--", "/nonexistent/producer")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, exitFailure, exitErr.ExitCode())
}

func TestRunRejectsInvalidFlags(t *testing.T) {
	_, err := execute(t, "run", "--format", "xml", "--", "true")
	assert.Error(t, err)
}

func TestApplyRunFlags(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--format", "yaml", "--pty", "--grace", "2s", "--max-line", "0"}))

	cfg := config.Default()
	cfg.Output.Path = "from-env"
	require.NoError(t, applyRunFlags(cmd, cfg))

	assert.Equal(t, "yaml", cfg.Output.Format)
	assert.True(t, cfg.Child.PTY)
	assert.Equal(t, "2s", cfg.ShutdownGrace.String())
	assert.Equal(t, 0, cfg.Stream.MaxLine)
	assert.Equal(t, "from-env", cfg.Output.Path, "unset flags keep loaded values")
}

func TestCommandSpec(t *testing.T) {
	cfg := config.Default()
	spec, err := commandSpec(cfg)
	require.NoError(t, err)
	assert.Equal(t, "list", spec.Name)
	assert.Equal(t, []string{"list", "."}, spec.Args)

	cfg.Child.Command = []string{"find", ".", "-type", "f"}
	cfg.Child.PTY = true
	spec, err = commandSpec(cfg)
	require.NoError(t, err)
	assert.Equal(t, "find", spec.Path)
	assert.Equal(t, []string{".", "-type", "f"}, spec.Args)
	assert.True(t, spec.PTY)
}

func TestExitStatus(t *testing.T) {
	assert.NoError(t, exitStatus(false, nil, nil))

	err := exitStatus(true, nil, nil)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, exitInterrupted, exitErr.Code)

	err = exitStatus(false, nil, os.ErrClosed)
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, exitFailure, exitErr.Code)
	assert.ErrorIs(t, err, os.ErrClosed)
}
