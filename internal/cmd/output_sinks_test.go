package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/output"
)

func sinkCommand(t *testing.T, args ...string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd := &cobra.Command{Use: "probe"}
	addOutputFlags(cmd, "table|json")
	require.NoError(t, cmd.ParseFlags(args))
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	return cmd, &stdout
}

func TestOpenCommandSinkDefaultsToStdout(t *testing.T) {
	cmd, stdout := sinkCommand(t)
	sink, err := openCommandSink(cmd, output.FormatTable, "status.providers")
	require.NoError(t, err)
	defer sink.close() // nolint:errcheck // best-effort cleanup

	_, _ = sink.writer.Write([]byte("hello"))
	assert.Equal(t, "-", sink.path)
	assert.Equal(t, "hello", stdout.String())
}

func TestOpenCommandSinkOutDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	cmd, _ := sinkCommand(t, "--out-dir", dir)

	sink, err := openCommandSink(cmd, output.FormatJSON, "status.throttles")
	require.NoError(t, err)
	_, _ = sink.writer.Write([]byte("[]"))
	require.NoError(t, sink.close())

	data, err := os.ReadFile(filepath.Join(dir, "status.throttles.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestOpenCommandSinkRejectsBothTargets(t *testing.T) {
	cmd, _ := sinkCommand(t, "--out", "a.txt", "--out-dir", "b")
	_, err := openCommandSink(cmd, output.FormatTable, "x")
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestResolveOutputFormat(t *testing.T) {
	cmd, _ := sinkCommand(t, "--output-format", "json")
	format, err := resolveOutputFormat(cmd)
	require.NoError(t, err)
	assert.Equal(t, output.FormatJSON, format)
	assert.Equal(t, "json", outputExtension(format))
	assert.Equal(t, "txt", outputExtension(output.FormatTable))
}
