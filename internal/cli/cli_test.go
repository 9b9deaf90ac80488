package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ChuLiYu/algorun/internal/history"
	"github.com/ChuLiYu/algorun/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config with history enabled and returns its path.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	historyPath := filepath.Join(dir, "history.json")
	content := `
scheduler:
  workers: 2
  policy: largest-cost
logging:
  level: error
history:
  path: ` + historyPath + "\n" + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, historyPath
}

// execute runs the CLI with args and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "algorun", cmd.Use, "Root command should be 'algorun'")
	assert.Equal(t, "1.0.0", cmd.Version, "Version should be 1.0.0")

	commands := cmd.Commands()
	assert.Len(t, commands, 5, "Should have 5 subcommands")

	commandNames := make(map[string]bool)
	for _, c := range commands {
		commandNames[c.Name()] = true
	}
	for _, name := range []string{"list", "describe", "run", "history", "status"} {
		assert.True(t, commandNames[name], "Should have '%s' command", name)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue, "Default config path should be configs/default.yaml")
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	assert.Equal(t, "run", cmd.Name())
	assert.NotNil(t, cmd.RunE, "RunE function should be set")
	for flag, short := range map[string]string{"version": "v", "set": "p", "file": "f"} {
		f := cmd.Flags().Lookup(flag)
		require.NotNil(t, f, "Should have --%s flag", flag)
		assert.Equal(t, short, f.Shorthand)
	}
	assert.NotNil(t, cmd.Flags().Lookup("progress"))
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test_config.yaml")
	configContent := `
scheduler:
  workers: 4
  policy: fifo
logging:
  level: debug
  format: json
metrics:
  enabled: true
  port: 8080
history:
  path: ./history.json
versions:
  Scale: 1
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := loadConfig(configPath)
	require.NoError(t, err, "loadConfig should not return an error")

	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, "fifo", cfg.Scheduler.Policy)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 8080, cfg.Metrics.Port)
	assert.Equal(t, "./history.json", cfg.History.Path)
	assert.Equal(t, map[string]int{"Scale": 1}, cfg.Versions)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := loadConfig("/nonexistent/config.yaml")

	assert.Error(t, err)
	assert.Nil(t, cfg, "Config should be nil on error")
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
scheduler:
  workers: "not a number"
  invalid yaml structure
    broken indentation
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0o644))

	cfg, err := loadConfig(configPath)

	assert.Error(t, err)
	assert.Nil(t, cfg, "Config should be nil on parse error")
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestLoadConfig_EmptyFileKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(""), 0o644))

	cfg, err := loadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestLoadConfig_PartialConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("scheduler:\n  workers: 2\n"), 0o644))

	cfg, err := loadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
	assert.Equal(t, "largest-cost", cfg.Scheduler.Policy, "Unset fields keep their defaults")
	assert.Empty(t, cfg.History.Path)
}

func TestLoadConfigOrDefault(t *testing.T) {
	// the package directory has no configs/default.yaml
	cfg, err := loadConfigOrDefault(defaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)

	_, err = loadConfigOrDefault(filepath.Join(t.TempDir(), "custom.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestParseSets(t *testing.T) {
	got, err := parseSets([]string{"Bins=5", " Title = a=b", "DataY="})
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"Bins", "5"}, {"Title", " a=b"}, {"DataY", ""}}, got)

	for _, bad := range []string{"Bins", "=5"} {
		_, err := parseSets([]string{bad})
		assert.ErrorIs(t, err, types.ErrValidation, bad)
	}
}

func TestPinnedVersion(t *testing.T) {
	cfg := defaultConfig()
	cfg.Versions = map[string]int{"Scale": 1}

	assert.Equal(t, 2, pinnedVersion(cfg, "Scale", 2))
	assert.Equal(t, 1, pinnedVersion(cfg, "Scale", 0))
	assert.Equal(t, 0, pinnedVersion(cfg, "CreateMatrix", 0))
}

func TestListCommand(t *testing.T) {
	configPath, _ := writeConfig(t, "")

	out, _, err := execute(t, "list", "-c", configPath)
	require.NoError(t, err)
	for _, name := range []string{"CreateMatrix", "Scale", "ScaledCopy", "RenameWorkspace"} {
		assert.Contains(t, out, name)
	}
}

func TestDescribeCommand(t *testing.T) {
	configPath, _ := writeConfig(t, "")

	out, _, err := execute(t, "describe", "Scale", "-v", "1", "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Scale v1")
	assert.Contains(t, out, "InputWorkspace")
	assert.Contains(t, out, "workspace (Matrix)")
	assert.Contains(t, out, "Factor")

	_, _, err = execute(t, "describe", "Nope", "-c", configPath)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRunCommand(t *testing.T) {
	configPath, historyPath := writeConfig(t, "")

	out, errOut, err := execute(t, "run", "CreateMatrix", "-c", configPath, "--progress",
		"-p", "OutputWorkspace=ws", "-p", "Bins=3", "-p", "DataY=1:3")
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "ws")
	assert.Contains(t, out, "1x3")
	assert.Contains(t, errOut, "[100%] done")

	records, err := history.NewStore(historyPath).Lookup("ws")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "CreateMatrix", records[0].Algorithm)
	assert.Equal(t, "1,2,3", records[0].Properties["DataY"])
}

func TestRunCommand_JobFile(t *testing.T) {
	configPath, historyPath := writeConfig(t, "versions:\n  Scale: 1\n")
	jobPath := filepath.Join(t.TempDir(), "job.hcl")
	job := `
algorithm "CreateMatrix" {
  OutputWorkspace = "raw"
  Bins            = 2
  DataY           = [1, 2]
}
algorithm "Scale" {
  InputWorkspace  = "raw"
  OutputWorkspace = "scaled"
  Factor          = 3
}
`
	require.NoError(t, os.WriteFile(jobPath, []byte(job), 0o644))

	out, _, err := execute(t, "run", "-f", jobPath, "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "raw")
	assert.Contains(t, out, "scaled")

	records, err := history.NewStore(historyPath).Lookup("scaled")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Scale", records[1].Algorithm)
	assert.Equal(t, 1, records[1].Version, "Version pin from config should apply")
}

func TestRunCommand_Errors(t *testing.T) {
	configPath, historyPath := writeConfig(t, "")

	_, _, err := execute(t, "run", "-c", configPath)
	assert.ErrorContains(t, err, "algorithm name or job file is required")

	_, _, err = execute(t, "run", "CreateMatrix", "-f", "job.hcl", "-c", configPath)
	assert.ErrorContains(t, err, "not both")

	_, _, err = execute(t, "run", "CreateMatrix", "-p", "Bins", "-c", configPath)
	assert.ErrorIs(t, err, types.ErrValidation)

	out, _, err := execute(t, "run", "CreateMatrix", "-p", "OutputWorkspace=ws", "-p", "Bins=2", "-p", "DataY=1,2,3", "-c", configPath)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems, "DataY")
	assert.Contains(t, out, "failed")

	names, err := history.NewStore(historyPath).Names()
	require.NoError(t, err)
	assert.Empty(t, names, "Failed runs publish nothing")
}

func TestHistoryCommand(t *testing.T) {
	configPath, _ := writeConfig(t, "")

	out, _, err := execute(t, "history", "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "no recorded workspaces")

	_, _, err = execute(t, "run", "CreateMatrix", "-p", "OutputWorkspace=ws", "-c", configPath)
	require.NoError(t, err)

	out, _, err = execute(t, "history", "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ws")

	out, _, err = execute(t, "history", "ws", "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "CreateMatrix")
	assert.Contains(t, out, "OutputWorkspace=ws")

	_, _, err = execute(t, "history", "missing", "-c", configPath)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestHistoryCommand_Disabled(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: error\n"), 0o644))

	_, _, err := execute(t, "history", "-c", configPath)
	assert.ErrorContains(t, err, "history is disabled")
}

func TestStatusCommand(t *testing.T) {
	configPath, historyPath := writeConfig(t, "versions:\n  Scale: 1\n")

	out, _, err := execute(t, "status", "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, configPath)
	assert.Contains(t, out, "Workers:      2")
	assert.Contains(t, out, "Scale [1 2]")
	assert.Contains(t, out, "Pinned: Scale=v1")
	assert.Contains(t, out, historyPath+" (0 workspaces)")
	assert.Contains(t, out, "Disabled")
}

func TestStatusCommand_BadPolicy(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("scheduler:\n  policy: random\n"), 0o644))

	_, _, err := execute(t, "status", "-c", configPath)
	assert.ErrorIs(t, err, types.ErrValidation)
}
