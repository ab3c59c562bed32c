// Command agentmesh runs a set of agent graphs from a definitions file.
//
// Usage:
//
//	agentmesh --config config.yaml --agents agents.yaml
//
// The agents file holds a list of agent definitions (id, name, graph,
// vars). Every agent is started; the process then runs until SIGINT or
// SIGTERM, at which point agents are stopped and resources released.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentmesh"
	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/config"
)

func main() {
	configPath := flag.String("config", "", "path to config YAML")
	agentsPath := flag.String("agents", "agents.yaml", "path to agent definitions YAML")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	opts := []agentmesh.Option{
		agentmesh.WithLogger(logger),
		agentmesh.WithStore(cfg.Store),
		agentmesh.WithPool(cfg.Pool),
		agentmesh.WithAgentDefaults(cfg.Agent.QueueSize, cfg.Agent.CyclicInterval, cfg.Agent.StopTimeout),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, agentmesh.WithMetrics(cfg.Metrics.Namespace, nil))
	}

	sys, err := agentmesh.New(opts...)
	if err != nil {
		logger.Fatal("failed to build system", zap.Error(err))
	}
	defer sys.Shutdown()

	defs, err := loadDefinitions(*agentsPath)
	if err != nil {
		logger.Fatal("failed to load agent definitions", zap.Error(err))
	}
	for _, def := range defs {
		if _, err := sys.Agents.Add(def); err != nil {
			logger.Fatal("failed to register agent", zap.String("agent_id", def.ID), zap.Error(err))
		}
	}
	if err := sys.Agents.StartAll(); err != nil {
		logger.Fatal("failed to start agents", zap.Error(err))
	}
	logger.Info("agentmesh running", zap.Int("agents", sys.Agents.Len()))

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		logger.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}

func loadDefinitions(path string) ([]agent.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var defs []agent.Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}
