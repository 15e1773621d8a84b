package journal

import (
	"errors"
	"fmt"

	"github.com/xgr-network/xgr-relay/config"
	"github.com/xgr-network/xgr-relay/journal"
	"github.com/xgr-network/xgr-relay/types"
)

const (
	statusFlag  = "status"
	kindFlag    = "kind"
	limitFlag   = "limit"
	requestFlag = "request"
	backendFlag = "backend"
)

// journalEnv is the part of the environment the journal needs; chain and
// completion secrets are not required to inspect it.
type journalEnv struct {
	SubscriptionID string `env:"SUBSCRIPTION_ID,required,notEmpty"`
	DBDSN          string `env:"RELAY_DB_DSN"`
	DataDir        string `env:"RELAY_DATA_DIR" envDefault:"relay-data"`
}

type journalParams struct {
	statuses []string
	kind     string
	limit    int
	request  string
	backend  string

	env    journalEnv
	filter journal.Filter
	id     *types.RequestID
}

func (p *journalParams) validateFlags() error {
	if p.limit < 0 {
		return errors.New("limit must not be negative")
	}

	p.filter = journal.Filter{Limit: p.limit}

	for _, s := range p.statuses {
		st, err := journal.ParseStatus(s)
		if err != nil {
			return err
		}

		p.filter.Statuses = append(p.filter.Statuses, st)
	}

	if p.kind != "" {
		kind, err := types.ParseEventKind(p.kind)
		if err != nil {
			return err
		}

		p.filter.Kind = kind
	}

	if p.request != "" {
		id, err := types.ParseRequestID(p.request)
		if err != nil {
			return fmt.Errorf("invalid request id: %w", err)
		}

		p.id = &id
	}

	return journal.ValidateBackend(p.backend)
}

func (p *journalParams) loadEnv(opts config.LoadOptions) error {
	if err := config.LoadEnvFile(opts.EnvFile); err != nil {
		return err
	}

	if err := config.ParseEnv(&p.env); err != nil {
		return err
	}

	if p.backend == "" && opts.TuningFile != "" {
		tuning, err := config.LoadTuning(opts.TuningFile)
		if err != nil {
			return err
		}

		p.backend = tuning.Journal
	}

	return nil
}
