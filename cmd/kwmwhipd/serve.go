/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/cobra"

	cfg "stash.kopano.io/kwm/kwmwhip/config"
	"stash.kopano.io/kwm/kwmwhip/internal/codecs"
	"stash.kopano.io/kwm/kwmwhip/signaling/server"
	"stash.kopano.io/kwm/kwmwhip/version"
)

const defaultListenAddr = "127.0.0.1:8779"

var (
	detectDeadlocks = true
)

func commandServe() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [...args]",
		Short: "Start server and listen for requests",
		Run: func(cmd *cobra.Command, args []string) {
			if err := serve(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("listen", "", fmt.Sprintf("TCP listen address (default \"%s\")", defaultListenAddr))
	serveCmd.Flags().Bool("log-timestamp", true, "Prefix each log line with timestamp")
	serveCmd.Flags().String("log-level", "info", "Log level (one of panic, fatal, error, warn, info or debug)")
	serveCmd.Flags().Bool("with-pprof", false, "With pprof enabled")
	serveCmd.Flags().String("pprof-listen", "127.0.0.1:6060", "TCP listen address for pprof")
	serveCmd.Flags().Bool("with-metrics", false, "Enable metrics")
	serveCmd.Flags().String("metrics-listen", "127.0.0.1:6779", "TCP listen address for metrics")
	serveCmd.Flags().String("policy-file", "", "Path to YAML file with codec match rules, replaces the default policy")
	serveCmd.Flags().StringArray("policy-rule", nil, "Codec match rule in format mime/type;param=value;..., can be given multiple times, replaces the default policy")
	serveCmd.Flags().Bool("pion-default-codecs", false, "Use the pion default codec table instead of the built-in codecs")
	serveCmd.Flags().StringArray("ice-candidate", nil, "Host candidate to announce in answers in format [udp://|tcp://]ip:port, can be given multiple times")
	serveCmd.Flags().Bool("ice-lite", false, "Mark answers as ice-lite")
	serveCmd.Flags().String("dtls-cert", "", "Path to PEM encoded DTLS certificate, a self-signed certificate is generated if not set")
	serveCmd.Flags().String("dtls-key", "", "Path to PEM encoded DTLS private key")
	serveCmd.Flags().StringArray("whip-token", nil, "Bearer token accepted for WHIP, WHEP and websocket requests, can be given multiple times")
	serveCmd.Flags().Int64("max-offer-size", 64*1024, "Maximum size of SDP offers in bytes")
	serveCmd.Flags().BoolVar(&detectDeadlocks, "with-deadlock-detector", detectDeadlocks, "Enable deadlock detection")

	return serveCmd
}

func serve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	logTimestamp, _ := cmd.Flags().GetBool("log-timestamp")
	logLevel, _ := cmd.Flags().GetString("log-level")

	logger, err := newLogger(!logTimestamp, logLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	logger.WithField("version", version.Version).Infoln("serve start")

	deadlock.Opts.Disable = !detectDeadlocks
	deadlock.Opts.DeadlockTimeout = 15 * time.Second
	if !deadlock.Opts.Disable {
		logger.Warnln("enabled automatic deadlock detector")
	}

	config := &cfg.Config{
		Logger: logger,

		Policy: codecs.DefaultPolicy(),
	}

	listenAddr, _ := cmd.Flags().GetString("listen")
	if listenAddr == "" {
		listenAddr = os.Getenv("KWMWHIPD_LISTEN")
	}
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}
	config.ListenAddr = listenAddr

	if policyFile, _ := cmd.Flags().GetString("policy-file"); policyFile != "" {
		config.Policy, err = codecs.LoadPolicyFile(policyFile)
		if err != nil {
			return fmt.Errorf("failed to load policy-file: %w", err)
		}
	}
	if policyRuleStrings, _ := cmd.Flags().GetStringArray("policy-rule"); len(policyRuleStrings) > 0 {
		config.Policy = make(codecs.MatchPolicy, 0, len(policyRuleStrings))
		for _, ruleString := range policyRuleStrings {
			rule, ruleErr := codecs.ParseRule(ruleString)
			if ruleErr != nil {
				return fmt.Errorf("invalid policy-rule: %w", ruleErr)
			}
			config.Policy = append(config.Policy, rule)
		}
	}
	if err = config.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid codec policy: %w", err)
	}

	config.UsePionDefaultCodecs, _ = cmd.Flags().GetBool("pion-default-codecs")

	config.ICECandidates, _ = cmd.Flags().GetStringArray("ice-candidate")
	config.ICELite, _ = cmd.Flags().GetBool("ice-lite")
	if len(config.ICECandidates) > 0 {
		logger.WithField("candidates", config.ICECandidates).Infoln("announcing ICE host candidates")
	}

	dtlsCertFile, _ := cmd.Flags().GetString("dtls-cert")
	dtlsKeyFile, _ := cmd.Flags().GetString("dtls-key")
	if dtlsCertFile != "" || dtlsKeyFile != "" {
		if dtlsCertFile == "" || dtlsKeyFile == "" {
			return fmt.Errorf("dtls-cert and dtls-key must be given together")
		}
		certificate, certErr := tls.LoadX509KeyPair(dtlsCertFile, dtlsKeyFile)
		if certErr != nil {
			return fmt.Errorf("failed to load DTLS certificate: %w", certErr)
		}
		config.DTLSCertificate = &certificate
	}

	config.WHIPTokens, _ = cmd.Flags().GetStringArray("whip-token")
	if len(config.WHIPTokens) == 0 {
		if tokens := os.Getenv("KWMWHIPD_WHIP_TOKENS"); tokens != "" {
			config.WHIPTokens = strings.Fields(tokens)
		}
	}
	if len(config.WHIPTokens) == 0 {
		logger.Warnln("no whip-token configured, signaling requests are not authenticated")
	}
	config.MaxOfferSize, _ = cmd.Flags().GetInt64("max-offer-size")

	// Metrics support.
	config.WithMetrics, _ = cmd.Flags().GetBool("with-metrics")
	metricsListenAddr, _ := cmd.Flags().GetString("metrics-listen")
	if config.WithMetrics && metricsListenAddr != "" {
		reg := prometheus.NewPedanticRegistry()
		config.Metrics = prometheus.WrapRegistererWithPrefix("kwmwhipd_", reg)
		// Add the standard process and Go metrics to the custom registry.
		reg.MustRegister(
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			prometheus.NewGoCollector(),
		)
		go func() {
			metricsListen := metricsListenAddr
			handler := http.NewServeMux()
			logger.WithField("listenAddr", metricsListen).Infoln("metrics enabled, starting listener")
			handler.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			err := http.ListenAndServe(metricsListen, handler)
			if err != nil {
				logger.WithError(err).Errorln("unable to start metrics listener")
			}
		}()
	}

	srv, err := server.NewServer(config)
	if err != nil {
		return fmt.Errorf("failed to create server: %v", err)
	}

	// Profiling support.
	withPprof, _ := cmd.Flags().GetBool("with-pprof")
	pprofListenAddr, _ := cmd.Flags().GetString("pprof-listen")
	if withPprof && pprofListenAddr != "" {
		runtime.SetMutexProfileFraction(5)
		go func() {
			pprofListen := pprofListenAddr
			logger.WithField("listenAddr", pprofListen).Infoln("pprof enabled, starting listener")
			err := http.ListenAndServe(pprofListen, nil)
			if err != nil {
				logger.WithError(err).Errorln("unable to start pprof listener")
			}
		}()
	}

	logger.WithField("whip_auth", len(config.WHIPTokens) > 0).Infoln("serve started")
	return srv.Serve(ctx)
}
