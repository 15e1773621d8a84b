package helper

import (
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"

	"github.com/xgr-network/xgr-relay/command"
	"github.com/xgr-network/xgr-relay/config"
)

// FormatList formats a list, using a specific blank value replacement
func FormatList(in []string) string {
	columnConf := columnize.DefaultConfig()
	columnConf.Empty = "<none>"

	return columnize.Format(in, columnConf)
}

// FormatKV formats key value pairs:
//
// Key = Value
//
// Key = <none>
func FormatKV(in []string) string {
	columnConf := columnize.DefaultConfig()
	columnConf.Empty = "<none>"
	columnConf.Glue = " = "

	return columnize.Format(in, columnConf)
}

// RegisterJSONOutputFlag registers the --json output setting for all child commands
func RegisterJSONOutputFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool(
		command.JSONOutputFlag,
		false,
		"get all outputs in json format (default false)",
	)
}

// RegisterConfigFlags registers the configuration source flags for all child commands
func RegisterConfigFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String(
		command.EnvFileFlag,
		"",
		"the dotenv file to load; a missing "+command.DefaultEnvFile+" is ignored",
	)

	cmd.PersistentFlags().String(
		command.ConfigFlag,
		"",
		"the YAML tuning file",
	)

	cmd.PersistentFlags().String(
		command.LogLevelFlag,
		"",
		"the log level, overrides RELAY_LOG_LEVEL",
	)

	cmd.PersistentFlags().Bool(
		command.LogJSONFlag,
		false,
		"log in json format",
	)
}

func GetLoadOptions(cmd *cobra.Command) config.LoadOptions {
	return config.LoadOptions{
		EnvFile:    stringFlag(cmd, command.EnvFileFlag),
		TuningFile: stringFlag(cmd, command.ConfigFlag),
	}
}

// LoadConfig loads and validates the configuration, applying flag overrides.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(GetLoadOptions(cmd))
	if err != nil {
		return nil, err
	}

	if level := stringFlag(cmd, command.LogLevelFlag); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

// NewLogger builds the process logger writing to stderr.
func NewLogger(cmd *cobra.Command, level string) hclog.Logger {
	if flagLevel := stringFlag(cmd, command.LogLevelFlag); flagLevel != "" {
		level = flagLevel
	}

	if level == "" {
		level = command.DefaultLogLevel
	}

	jsonFormat := false
	if flag := cmd.Flag(command.LogJSONFlag); flag != nil {
		jsonFormat = flag.Value.String() == "true"
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "xgr-relay",
		Level:      hclog.LevelFromString(strings.ToLower(level)),
		Output:     os.Stderr,
		JSONFormat: jsonFormat,
	})
}

func stringFlag(cmd *cobra.Command, name string) string {
	flag := cmd.Flag(name)
	if flag == nil {
		return ""
	}

	return flag.Value.String()
}
