// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package main is the ModelRelay command-line client. It loads credentials
// from the environment (optionally via .env), reads the dispatch
// configuration from YAML, and sends prompts through the dispatch pipeline,
// printing answers streamed to stdout by default.
//
// With -prompt it sends one prompt and exits. Without -prompt it reads one
// prompt per line from stdin and watches the configuration file, applying
// provider changes to the running dispatcher without a restart.
//
// Usage:
//
//	relay -prompt "explain circuit breakers" [-config relay.yaml] [-model gpt-4o]
//	relay [-config relay.yaml] < prompts.txt
//
// Environment variables:
//
//	ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, XAI_API_KEY
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelrelay/core/llm"
	"modelrelay/core/llm/anthropic"
	"modelrelay/core/llm/circuitbreaker"
	"modelrelay/core/llm/gemini"
	"modelrelay/core/llm/ollama"
	"modelrelay/core/llm/openai"
	"modelrelay/core/llm/sdk"
	"modelrelay/core/llm/xai"
	"modelrelay/core/shared/config"
	"modelrelay/core/shared/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "relay.yaml", "path to the YAML configuration file")
	prompt := flag.String("prompt", "", "prompt to send; omit to read prompts from stdin")
	system := flag.String("system", "", "optional system prompt")
	model := flag.String("model", "", "override the configured model")
	blocking := flag.Bool("no-stream", false, "wait for the complete answer instead of streaming")
	metricsAddr := flag.String("metrics", "", "serve prometheus metrics on this address (e.g. :9464)")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	providerCfg := cfg.ProviderConfig()
	if *model != "" {
		providerCfg.Model = *model
		providerCfg.Provider = llm.FamilyForModel(*model)
	}

	fallbacks := llm.NewFallbackTable()
	for primary, candidates := range cfg.Failover.Models {
		fallbacks.Register(primary, candidates)
	}

	var metrics *llm.Metrics
	if *metricsAddr != "" || cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		metrics = llm.NewMetrics(registry)

		addr := *metricsAddr
		if addr == "" {
			addr = cfg.Metrics.ListenAddr
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			_ = http.ListenAndServe(addr, mux)
		}()
	}

	log := logger.New("relay")
	dispatcher := llm.NewDispatcher(providerCfg, llm.Options{
		Adapters: llm.NewAdapterSet(
			anthropic.New(),
			openai.New(),
			gemini.New(),
			xai.New(),
			ollama.New(),
		),
		Credentials: llm.EnvCredentials{},
		Retry: sdk.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			MinDelay:    cfg.Retry.MinDelay.Std(),
			MaxDelay:    cfg.Retry.MaxDelay.Std(),
			Jitter:      cfg.Retry.Jitter,
		},
		Breaker: circuitbreaker.Settings{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout.Std(),
		},
		Fallbacks:       fallbacks,
		FailoverEnabled: cfg.Failover.Enabled,
		MaxFailoverHops: cfg.Failover.MaxHops,
		Logger:          log,
		Metrics:         metrics,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *prompt != "" {
		return ask(ctx, dispatcher, *system, *prompt, *blocking)
	}

	// Stdin mode is long-running, so configuration edits take effect live.
	// The -model flag only seeds the initial config; the file wins on reload.
	go watchConfig(ctx, *configPath, dispatcher, log)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := ask(ctx, dispatcher, *system, line, *blocking); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(os.Stderr, "relay:", err)
		}
	}
	return scanner.Err()
}

// watchConfig applies valid configuration file changes to the dispatcher and
// logs invalid ones, keeping the previous configuration in effect.
func watchConfig(ctx context.Context, path string, dispatcher *llm.Dispatcher, log *logger.Logger) {
	onChange := func(next config.Config) {
		pc := next.ProviderConfig()
		dispatcher.UpdateConfig(llm.ConfigUpdate{
			Provider:    &pc.Provider,
			Model:       &pc.Model,
			BaseURL:     &pc.BaseURL,
			Temperature: &pc.Temperature,
			MaxTokens:   &pc.MaxTokens,
		})
		log.Info("", "configuration reloaded", map[string]interface{}{
			"provider": string(pc.Provider),
			"model":    pc.Model,
		})
	}
	onError := func(err error) {
		log.Warn("", "configuration reload rejected", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := config.Watch(ctx, path, onChange, onError); err != nil && ctx.Err() == nil {
		log.Warn("", "configuration watch stopped", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// ask sends one prompt through the dispatcher and prints the answer.
func ask(ctx context.Context, dispatcher *llm.Dispatcher, system, prompt string, blocking bool) error {
	var turns []llm.Turn
	if system != "" {
		turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: system})
	}
	turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: prompt})

	if blocking {
		answer, err := dispatcher.Send(ctx, turns)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	}

	stream, err := dispatcher.Stream(ctx, turns)
	if err != nil {
		return err
	}
	for chunk := range stream {
		if chunk.Content != "" {
			fmt.Print(chunk.Content)
		}
		if chunk.Done {
			fmt.Println()
			if chunk.Error != "" {
				return fmt.Errorf("%s", chunk.Error)
			}
		}
	}
	return nil
}
