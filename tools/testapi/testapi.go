package main

import (
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/xgr-network/xgr-relay/internal/testapi"
)

// Standalone mock completion API for local relay runs:
//
//	go run ./tools/testapi -config responses.json
//	OPENAI_BASE_URL=http://localhost:8080 xgr-relay relay ...
func main() {
	var (
		addr  = flag.String("addr", ":8080", "listen address (host:port)")
		cfg   = flag.String("config", "responses.json", "path to responses.json")
		quiet = flag.Bool("quiet", false, "less logging")
	)

	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{Name: "testapi", Level: hclog.Info})

	conf, err := testapi.LoadConfig(*cfg)
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}

	srv, err := testapi.New(conf)
	if err != nil {
		logger.Error("compile error", "err", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/", logMiddleware(logger, *quiet, srv))

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Error("listen", "err", err)
		os.Exit(1)
	}

	logger.Info("TestAPI listening", "addr", *addr, "config", *cfg)

	if err := http.Serve(ln, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "err", err)
		os.Exit(1)
	}
}

func logMiddleware(logger hclog.Logger, quiet bool, h http.Handler) http.Handler {
	if quiet {
		return h
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)
		logger.Info("request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start).Truncate(time.Millisecond))
	})
}
