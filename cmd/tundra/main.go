package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitlabuda/tundra-nat64-sub001/flags"
	"github.com/vitlabuda/tundra-nat64-sub001/internal/config"
	"github.com/vitlabuda/tundra-nat64-sub001/internal/iodev"
	"github.com/vitlabuda/tundra-nat64-sub001/internal/metrics"
	"github.com/vitlabuda/tundra-nat64-sub001/internal/xlat"
	"github.com/vitlabuda/tundra-nat64-sub001/internal/xlog"
)

// Exit codes, per spec.md §6.
const (
	exitClean              = 0
	exitConfigError        = 1
	exitIOError            = 2
	exitInvariantViolation = 3
)

const tundraVersion = "1.0.0"

func main() {
	opts := flags.NewOptions()
	subcommand, err := flags.Parse(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}

	if opts.ShowVersion {
		fmt.Printf("tundra v%s\nStateless IPv4/IPv6 packet translator.\n", tundraVersion)
		return
	}

	if opts.ConfigPath == "" {
		fmt.Fprintln(os.Stderr, "tundra: --config is required")
		os.Exit(exitConfigError)
	}

	switch subcommand {
	case "translate":
		os.Exit(runTranslate(opts))
	case "mktun":
		os.Exit(runMktun(opts))
	case "rmtun":
		os.Exit(runRmtun(opts))
	default:
		fmt.Fprintf(os.Stderr, "tundra: unknown subcommand %q\n", subcommand)
		os.Exit(exitConfigError)
	}
}

func runMktun(opts *flags.Options) int {
	raw, err := config.LoadRaw(opts.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tundra: invalid configuration:", err)
		return exitConfigError
	}
	if raw.IOMode != "tun" {
		fmt.Fprintln(os.Stderr, "tundra: mktun requires io_mode: tun")
		return exitConfigError
	}
	if err := iodev.CreatePersistentTUN(raw.IOTUNInterfaceName, -1, -1); err != nil {
		fmt.Fprintln(os.Stderr, "tundra: mktun:", err)
		return exitIOError
	}
	return exitClean
}

func runRmtun(opts *flags.Options) int {
	raw, err := config.LoadRaw(opts.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tundra: invalid configuration:", err)
		return exitConfigError
	}
	if raw.IOMode != "tun" {
		fmt.Fprintln(os.Stderr, "tundra: rmtun requires io_mode: tun")
		return exitConfigError
	}
	if err := iodev.RemovePersistentTUN(raw.IOTUNInterfaceName); err != nil {
		fmt.Fprintln(os.Stderr, "tundra: rmtun:", err)
		return exitIOError
	}
	return exitClean
}

func runTranslate(opts *flags.Options) int {
	raw, err := config.LoadRaw(opts.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tundra: invalid configuration:", err)
		return exitConfigError
	}
	cfg, err := config.Build(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tundra: invalid configuration:", err)
		return exitConfigError
	}

	level, ok := xlog.ParseLevel(raw.LogLevel)
	if !ok {
		level = xlog.LevelInfo
	}
	log := xlog.New(os.Stderr, level, fmt.Sprintf("(%s) ", raw.IOTUNInterfaceName))

	if from, clamped := config.ClampedIPv6MTUWarning(raw); clamped {
		log.Info.Printf("link_mtu_ipv6 %d is below the 1280 floor required by RFC 8200; clamping to 1280", from)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	endpoints, ifaceName, err := buildEndpoints(cfg, raw, opts)
	if err != nil {
		log.Error.Println("failed to open I/O endpoints:", err)
		return exitIOError
	}
	if ifaceName != "" {
		log.Info.Println("opened TUN interface", ifaceName)
	}

	engine := xlat.NewEngine(cfg, endpoints, m, log)

	if raw.MetricsListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(raw.MetricsListenAddr, mux); err != nil {
				log.Error.Println("metrics listener stopped:", err)
			}
		}()
	}

	engine.Run()
	log.Info.Println("workers started")

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM, os.Interrupt)

	select {
	case <-term:
		log.Info.Println("shutting down")
		engine.Stop()
		return exitClean
	case <-engine.Done():
		if err := engine.Err(); err != nil {
			log.Error.Println("worker pool exited:", err)
			if err == xlat.ErrInvariantViolation {
				return exitInvariantViolation
			}
			return exitIOError
		}
		return exitClean
	}
}

// buildEndpoints opens a single TUN/fd-pair Endpoint and returns one
// EndpointPair per worker (cfg.WorkerCount of them), all sharing that
// Endpoint; the endpoints are the only state the workers share.
func buildEndpoints(cfg *xlat.Config, raw *config.File, opts *flags.Options) ([]xlat.EndpointPair, string, error) {
	workers := cfg.WorkerCount
	endpoints := make([]xlat.EndpointPair, 0, workers)

	if raw.IOMode == "fd-pair" {
		if opts.FDRead < 0 || opts.FDWrite < 0 {
			return nil, "", fmt.Errorf("io_mode fd-pair requires --fd-read and --fd-write")
		}
		ep, err := iodev.OpenInheritedFDPair(fmt.Sprintf("%d,%d", opts.FDRead, opts.FDWrite))
		if err != nil {
			return nil, "", err
		}
		for i := 0; i < workers; i++ {
			endpoints = append(endpoints, xlat.EndpointPair{Read: ep, Write: ep})
		}
		return endpoints, "", nil
	}

	ep, name, err := iodev.OpenTUN(raw.IOTUNInterfaceName)
	if err != nil {
		return nil, "", err
	}
	for i := 0; i < workers; i++ {
		endpoints = append(endpoints, xlat.EndpointPair{Read: ep, Write: ep})
	}
	return endpoints, name, nil
}
