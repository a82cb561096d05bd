// metricquery is a thin command-line client for the distributed query
// client: it fans a counter_query or counter_info_query out to a list of
// sources and prints the merged result as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/doubleyewdee/MetricSystem/internal/fedctx"
	"github.com/doubleyewdee/MetricSystem/internal/logging"
	"github.com/doubleyewdee/MetricSystem/pkg/federation"
)

func main() {
	var (
		sourcesFlag = flag.String("sources", "", "comma-separated host:port list of metric servers")
		counterPath = flag.String("counter", "", "counter path to query, e.g. /requests/latency")
		maxFanout   = flag.Uint("max-fanout", 16, "maximum number of sources to contact directly")
		timeoutMs   = flag.Uint("timeout-ms", 5000, "per-leader request timeout in milliseconds")
		info        = flag.Bool("info", false, "run a counter_info_query instead of counter_query")
	)
	flag.Parse()

	log := logging.New()

	sources, err := parseSources(*sourcesFlag)
	if err != nil {
		log.WithError(err).Error("invalid -sources")
		os.Exit(2)
	}

	req := federation.TieredRequest{
		Sources:         sources,
		MaxFanout:       uint32(*maxFanout),
		FanoutTimeoutMs: uint32(*timeoutMs),
	}

	ctx := fedctx.New(fedctx.Background(), log)
	client := federation.NewDistributedQueryClient()

	var out any
	if *info {
		out, err = client.CounterInfoQuery(ctx, *counterPath, req, nil)
	} else {
		out, err = client.CounterQuery(ctx, *counterPath, req, nil)
	}
	if err != nil {
		log.WithError(err).Error("query failed")
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.WithError(err).Error("encoding response")
		os.Exit(1)
	}
}

func parseSources(raw string) ([]federation.ServerInfo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("no sources given")
	}
	parts := strings.Split(raw, ",")
	out := make([]federation.ServerInfo, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		host, portStr, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("source %q must be host:port", p)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("source %q has an invalid port: %w", p, err)
		}
		out = append(out, federation.ServerInfo{Hostname: host, Port: uint16(port)})
	}
	return out, nil
}
