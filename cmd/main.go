package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/auraspeak/broker"
	"github.com/auraspeak/broker/internal/config"
	"github.com/auraspeak/broker/pkg/clientcfg"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML configuration")
	ip := flag.String("ip", "", "bind address, overrides server.host")
	corePort := flag.Int("core-port", 0, "registry port, overrides server.port")
	paramPort := flag.Int("param-port", 0, "parameter store port, overrides param_server.port")
	metricsAddr := flag.String("metrics", "", "metrics listen address, overrides metrics.address")
	setup := flag.Bool("setup", false, "run the interactive configuration setup and exit")
	list := flag.Bool("list", false, "print the nodes registered with a running broker and exit")
	flag.Parse()

	if *setup {
		if _, err := config.Setup(*configPath); err != nil {
			log.WithError(err).Fatal("Setup failed")
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Loading configuration")
	}
	if *ip != "" {
		cfg.Server.Host = *ip
	}
	if *corePort != 0 {
		cfg.Server.Port = strconv.Itoa(*corePort)
	}
	if *paramPort != 0 {
		cfg.ParamServer.Port = strconv.Itoa(*paramPort)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Address = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	} else {
		log.WithError(err).Warn("Unknown log level, keeping info")
	}

	if *list {
		listNodes(cfg)
		return
	}

	b, err := broker.New(context.Background(), cfg)
	if err != nil {
		log.WithError(err).Fatal("Creating broker")
	}

	runErr := make(chan error, 1)
	go func() { runErr <- b.Run() }()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		log.Infof("Received %s", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = b.Shutdown(ctx)
		if err := <-runErr; err != nil {
			log.WithError(err).Error("Broker stopped with error")
		}
	case err := <-runErr:
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = b.Shutdown(ctx)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("Broker failed")
		}
	}
}

func listNodes(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := clientcfg.DialBroker(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Connecting to broker")
	}
	defer c.Close()

	nodes, err := c.ListNodes(ctx)
	if err != nil {
		log.WithError(err).Fatal("Listing nodes")
	}
	out, err := yaml.Marshal(nodes)
	if err != nil {
		log.WithError(err).Fatal("Encoding node list")
	}
	_, _ = os.Stdout.Write(out)
}
