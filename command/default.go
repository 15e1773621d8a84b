package command

import "github.com/xgr-network/xgr-relay/config"

const (
	DefaultEnvFile  = config.DefaultEnvFile
	DefaultLogLevel = "info"
)

const (
	JSONOutputFlag  = "json"
	EnvFileFlag     = "env-file"
	ConfigFlag      = "config"
	LogLevelFlag    = "log-level"
	LogJSONFlag     = "log-json"
	MetricsAddrFlag = "metrics-addr"
)
