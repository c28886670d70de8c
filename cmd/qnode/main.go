// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// qnode runs a single node of the QChat network: it loads a topology
// file, starts the classical listener and router for the named node,
// registers with its registry, and serves Prometheus metrics until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdskrzypczyk/QChat/internal/config"
	"github.com/mdskrzypczyk/QChat/internal/logger"
	"github.com/mdskrzypczyk/QChat/internal/metrics"
	"github.com/mdskrzypczyk/QChat/pkg/node"
	"github.com/mdskrzypczyk/QChat/pkg/quantum"
)

func main() {
	topologyPath := flag.String("topology", "", "path to the node topology file (JSON or YAML)")
	nodeName := flag.String("node", "", "this node's name within the topology")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	keyBits := flag.Int("key-bits", 0, "RSA modulus size for this node's signer (default 2048)")
	flag.Parse()

	log := logger.GetDefaultLogger()

	if *topologyPath == "" || *nodeName == "" {
		fmt.Fprintln(os.Stderr, "usage: qnode -topology <file> -node <name>")
		os.Exit(2)
	}

	if err := run(log, *topologyPath, *nodeName, *metricsAddr, *keyBits); err != nil {
		log.Error("qnode: fatal", logger.Error(err))
		os.Exit(1)
	}
}

func run(log *logger.StructuredLogger, topologyPath, nodeName, metricsAddr string, keyBits int) error {
	topo, err := config.LoadTopology(topologyPath)
	if err != nil {
		return fmt.Errorf("qnode: load topology: %w", err)
	}

	// A single process only ever runs one node; the quantum network it
	// dials into is shared only by tests that run several nodes
	// in-process. A real deployment's Link would dial a networked
	// quantum backend instead of quantum.NewNetwork's in-memory one.
	net := quantum.NewNetwork()

	n, err := node.New(nodeName, topo, net, node.Options{KeyBits: keyBits, Log: log})
	if err != nil {
		return fmt.Errorf("qnode: build node %s: %w", nodeName, err)
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("qnode: start node %s: %w", nodeName, err)
	}
	defer n.Stop()
	log.Info("qnode: listening", logger.String("node", nodeName), logger.String("addr", n.Endpoint.Host+fmt.Sprintf(":%d", n.Endpoint.Port)), logger.Bool("is_registry", n.IsRegistry))

	if err := n.RegisterWithRoot(); err != nil {
		return fmt.Errorf("qnode: register with root: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("qnode: metrics listening", logger.String("addr", metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("qnode: metrics server failed", logger.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("qnode: shutting down", logger.String("node", nodeName))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return metricsServer.Shutdown(ctx)
}
