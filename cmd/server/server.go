package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vellum/internal/common"
	"vellum/internal/engine"
	"vellum/internal/marketdata"
	"vellum/internal/metrics"
	vellumnet "vellum/internal/net"
)

func main() {
	address := flag.String("address", "0.0.0.0", "address to bind the TCP server to")
	port := flag.Int("port", 9001, "port to bind the TCP server to")
	ticker := flag.String("ticker", "AAPL", "instrument this engine instance serves")
	metricsAddr := flag.String("metrics-address", "0.0.0.0:9090", "address to serve Prometheus metrics on")
	synthetic := flag.Bool("synthetic-market-data", false, "feed the book from an in-process random walk")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	eng := engine.New(common.Equities, *ticker)
	if *synthetic {
		eng.SetMarketDataStreamer(marketdata.NewRandomWalk(*ticker, 100.0, time.Second))
	}

	collector := metrics.NewCollector(*ticker)
	collector.MustRegister(prometheus.DefaultRegisterer)
	eng.SetMetrics(collector)

	srv := vellumnet.New(*address, *port, eng)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Info().Str("address", *metricsAddr).Msg("serving metrics")
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Error().Err(err).Msg("metrics server exited")
		}
	}()

	go func() {
		if err := eng.Run(ctx); err != nil {
			log.Error().Err(err).Msg("engine exited")
		}
	}()

	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Error().Err(err).Msg("server exited")
		}
	}()

	<-ctx.Done()
	srv.Shutdown()
	eng.Stop()
}
