// Package config loads the relay configuration: required secrets and
// endpoints from the environment, tuning from an optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xgr-network/xgr-relay/chain"
	"github.com/xgr-network/xgr-relay/completion"
	"github.com/xgr-network/xgr-relay/internal/ethrpc"
	"github.com/xgr-network/xgr-relay/journal"
	"github.com/xgr-network/xgr-relay/prompt"
	"github.com/xgr-network/xgr-relay/types"
)

const DefaultEnvFile = ".env"

// Env is read from the process environment.
type Env struct {
	RPCURL          string `env:"RPC_URL,required,notEmpty"`
	ChainAPIKey     string `env:"ETHERSCAN_API_KEY,required,notEmpty"`
	PrivateKey      string `env:"PRIVATE_KEY,required,notEmpty"`
	OpenAIKey       string `env:"OPENAI_API_KEY,required,notEmpty"`
	ConsumerAddress string `env:"CONSUMER_ADDRESS,required,notEmpty"`
	SubscriptionID  string `env:"SUBSCRIPTION_ID,required,notEmpty"`

	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	OpenAIModel   string `env:"OPENAI_MODEL"`
	DBDSN         string `env:"RELAY_DB_DSN"`
	DataDir       string `env:"RELAY_DATA_DIR" envDefault:"relay-data"`
	LogLevel      string `env:"RELAY_LOG_LEVEL" envDefault:"info"`
}

type Completion struct {
	Model             string        `yaml:"model"`
	MaxTokens         int           `yaml:"max_tokens"`
	MaxResultBytes    int           `yaml:"max_result_bytes"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

type Retry struct {
	MaxRetries uint64        `yaml:"max_retries"`
	Base       time.Duration `yaml:"base"`
	Cap        time.Duration `yaml:"cap"`
}

type Chain struct {
	Confirmations    uint64        `yaml:"confirmations"`
	ReceiptTimeout   time.Duration `yaml:"receipt_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	GasMargin        uint64        `yaml:"gas_margin"`
	StartBlock       *uint64       `yaml:"start_block"`
	BatchSize        uint64        `yaml:"batch_size"`
	LogPollEvery     time.Duration `yaml:"log_poll_every"`
	ResubscribeDelay time.Duration `yaml:"resubscribe_delay"`
}

// Tuning is the optional YAML file. Zero values fall back to defaults.
type Tuning struct {
	Players         int               `yaml:"players"`
	Journal         string            `yaml:"journal"`
	Completion      Completion        `yaml:"completion"`
	Retry           Retry             `yaml:"retry"`
	Chain           Chain             `yaml:"chain"`
	Methods         map[string]string `yaml:"methods"`
	SubmitTimeout   time.Duration     `yaml:"submit_timeout"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	MetricsAddr     string            `yaml:"metrics_addr"`
}

func DefaultTuning() Tuning {
	r := completion.DefaultRetryConfig()

	return Tuning{
		Players: prompt.DefaultPlayers,
		Journal: string(journal.BackendLevelDB),
		Completion: Completion{
			MaxTokens:      1024,
			MaxResultBytes: 4096,
			Timeout:        completion.DefaultTimeout,
		},
		Retry: Retry{MaxRetries: r.MaxRetries, Base: r.Base, Cap: r.Cap},
		Chain: Chain{
			Confirmations:    chain.DefaultConfirmations,
			ReceiptTimeout:   chain.DefaultReceiptTimeout,
			PollInterval:     chain.DefaultPollInterval,
			GasMargin:        chain.DefaultGasMargin,
			BatchSize:        chain.DefaultBatchSize,
			LogPollEvery:     chain.DefaultPollEvery,
			ResubscribeDelay: chain.DefaultResubscribeDelay,
		},
		SubmitTimeout:   5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

type Config struct {
	Env
	Tuning
}

// LoadOptions locate the optional files.
type LoadOptions struct {
	// EnvFile is loaded when present; it never overrides the environment.
	EnvFile    string
	TuningFile string
}

// Load reads .env, the environment and the tuning file, then validates.
// Every problem is reported at once.
func Load(opts LoadOptions) (*Config, error) {
	if err := LoadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	cfg := &Config{Tuning: DefaultTuning()}

	if err := ParseEnv(&cfg.Env); err != nil {
		return nil, err
	}

	if opts.TuningFile != "" {
		t, err := LoadTuning(opts.TuningFile)
		if err != nil {
			return nil, err
		}

		cfg.Tuning = t
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseEnv fills target from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	return nil
}

// LoadEnvFile loads a dotenv file without overriding the environment. An
// empty path means DefaultEnvFile, which may be absent.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, os.ErrNotExist)) {
		return nil
	}

	return fmt.Errorf("load env file %s: %w", path, err)
}

// LoadTuning reads a YAML tuning file on top of the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()

	raw, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return t, fmt.Errorf("parse tuning file %s: %w", path, err)
	}

	return t, nil
}

func (c *Config) Validate() error {
	var result *multierror.Error

	if _, err := chain.ParseAddress(c.ConsumerAddress); err != nil {
		result = multierror.Append(result, fmt.Errorf("CONSUMER_ADDRESS: %w", err))
	}

	if _, err := chain.ParsePrivateKey(c.PrivateKey); err != nil {
		result = multierror.Append(result, fmt.Errorf("PRIVATE_KEY: %w", err))
	}

	if err := validateRPCURL(c.RPCURL, c.ChainAPIKey); err != nil {
		result = multierror.Append(result, fmt.Errorf("RPC_URL: %w", err))
	}

	if c.OpenAIBaseURL != "" {
		if u, err := url.Parse(c.OpenAIBaseURL); err != nil || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("OPENAI_BASE_URL: invalid url %q", c.OpenAIBaseURL))
		}
	}

	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		result = multierror.Append(result, fmt.Errorf("RELAY_LOG_LEVEL: unknown level %q", c.LogLevel))
	}

	if err := c.Tuning.Validate(); err != nil {
		result = multierror.Append(result, err)
	}

	if c.Journal == string(journal.BackendPostgres) && c.DBDSN == "" {
		result = multierror.Append(result, errors.New("RELAY_DB_DSN is required for the postgres journal"))
	}

	return result.ErrorOrNil()
}

func (t *Tuning) Validate() error {
	var result *multierror.Error

	if t.Players <= 0 || t.Players > prompt.MaxPlayers {
		result = multierror.Append(result, fmt.Errorf("players: %d out of range [1,%d]", t.Players, prompt.MaxPlayers))
	}

	if err := journal.ValidateBackend(t.Journal); err != nil {
		result = multierror.Append(result, err)
	}

	if _, err := t.MethodOverrides(); err != nil {
		result = multierror.Append(result, err)
	}

	if t.Chain.Confirmations == 0 {
		result = multierror.Append(result, errors.New("chain.confirmations must be at least 1"))
	}

	if t.Retry.Base > t.Retry.Cap && t.Retry.Cap > 0 {
		result = multierror.Append(result, errors.New("retry.base exceeds retry.cap"))
	}

	return result.ErrorOrNil()
}

// MethodOverrides resolves the methods section to event kinds.
func (t *Tuning) MethodOverrides() (map[types.EventKind]string, error) {
	out := make(map[types.EventKind]string, len(t.Methods))

	for name, method := range t.Methods {
		kind, err := types.ParseEventKind(name)
		if err != nil {
			return nil, fmt.Errorf("methods: %w", err)
		}

		if strings.TrimSpace(method) == "" {
			return nil, fmt.Errorf("methods: empty method for %s", kind)
		}

		out[kind] = method
	}

	return out, nil
}

func validateRPCURL(raw, apiKey string) error {
	expanded, _ := ethrpc.ExpandURL(raw, apiKey)

	u, err := url.Parse(expanded)
	if err != nil {
		return err
	}

	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("missing host")
	}

	return nil
}

func (c *Config) CompletionConfig(logger hclog.Logger) completion.Config {
	model := c.Completion.Model
	if c.OpenAIModel != "" {
		model = c.OpenAIModel
	}

	return completion.Config{
		BaseURL:           c.OpenAIBaseURL,
		APIKey:            c.OpenAIKey,
		Model:             model,
		MaxTokens:         c.Completion.MaxTokens,
		MaxResultBytes:    c.Completion.MaxResultBytes,
		RequestsPerSecond: c.Completion.RequestsPerSecond,
		Burst:             c.Completion.Burst,
		Timeout:           c.Completion.Timeout,
		Logger:            logger,
	}
}

func (c *Config) RetryConfig() completion.RetryConfig {
	return completion.RetryConfig{MaxRetries: c.Retry.MaxRetries, Base: c.Retry.Base, Cap: c.Retry.Cap}
}

func (c *Config) SubmitterConfig(logger hclog.Logger) chain.SubmitterConfig {
	methods, _ := c.MethodOverrides()

	return chain.SubmitterConfig{
		Confirmations:  c.Chain.Confirmations,
		ReceiptTimeout: c.Chain.ReceiptTimeout,
		PollInterval:   c.Chain.PollInterval,
		GasMargin:      c.Chain.GasMargin,
		Methods:        methods,
		Logger:         logger,
	}
}

func (c *Config) DialConfig() chain.DialConfig {
	return chain.DialConfig{
		RPCURL:     c.RPCURL,
		APIKey:     c.ChainAPIKey,
		PrivateKey: c.PrivateKey,
		Contract:   c.ConsumerAddress,
	}
}

func (c *Config) JournalParams(logger hclog.Logger) journal.Params {
	return journal.Params{
		SubscriptionID: c.SubscriptionID,
		DataDir:        c.DataDir,
		DSN:            c.DBDSN,
		Logger:         logger,
	}
}
