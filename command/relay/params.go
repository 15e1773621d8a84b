package relay

import (
	"net"

	"github.com/xgr-network/xgr-relay/config"
)

const (
	metricsAddrFlagDesc = "address for the prometheus /metrics endpoint, overrides metrics_addr"
)

type relayParams struct {
	metricsAddr string

	cfg *config.Config
}

func (p *relayParams) validateFlags() error {
	if p.metricsAddr == "" {
		return nil
	}

	_, _, err := net.SplitHostPort(p.metricsAddr)

	return err
}

func (p *relayParams) applyOverrides() {
	if p.metricsAddr != "" {
		p.cfg.MetricsAddr = p.metricsAddr
	}
}
