// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoorlab

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spoorlab/dccstation/pkg/station"
	"github.com/spoorlab/dccstation/pkg/throttlelink"
)

var (
	configPath string
	listenAddr string
	logLevel   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the command station daemon",
	Long: `Run the DCC command station: load the station configuration, start
the timing engine and buffer manager, and serve the throttle link.

The link is served over the serial port given with --port, over WebSocket
on the address given with --listen, or both. WebSocket clients authenticate
with HTTP Basic auth against the DCCSTATION_PASSWORD environment variable
(no authentication is required when the variable is unset).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStation()
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Station configuration file (CBOR)")
	runCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "WebSocket listen address (e.g. :8070)")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(runCmd)
}

func loadStationConfig(path string) (station.Config, error) {
	if path == "" {
		return station.DefaultConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return station.Config{}, fmt.Errorf("opening config %s: %w", path, err)
	}
	defer f.Close()
	return station.LoadConfig(f)
}

func runStation() error {
	log := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	log.SetLevel(level)

	cfg, err := loadStationConfig(configPath)
	if err != nil {
		return err
	}

	if portName == "" && listenAddr == "" {
		return fmt.Errorf("nothing to serve: give --port and/or --listen")
	}

	st, err := station.New(cfg, nil, log)
	if err != nil {
		return err
	}
	st.Start()

	srv := throttlelink.NewServer(st, log, os.Getenv("DCCSTATION_PASSWORD"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var result *multierror.Error
	var httpSrv *http.Server

	if listenAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", srv.HandleWebSocket)
		httpSrv = &http.Server{Addr: listenAddr, Handler: mux}
		go func() {
			log.WithField("addr", listenAddr).Info("throttle link listening on WebSocket")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("websocket listener failed")
			}
		}()
	}

	if portName != "" {
		go serveSerial(ctx, srv, log)
	}

	<-ctx.Done()
	log.Info("shutting down")

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("stopping websocket listener: %w", err))
		}
		cancel()
	}
	if err := st.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// serveSerial keeps the serial side of the link alive, reopening the
// port after failures until the context is cancelled.
func serveSerial(ctx context.Context, srv *throttlelink.Server, log logrus.FieldLogger) {
	for ctx.Err() == nil {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			log.WithError(err).Warn("serial open failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		log.WithFields(logrus.Fields{
			"port": portName,
			"baud": baudRate,
		}).Info("throttle link serving serial port")

		// Close the port when the context ends so the blocked read
		// inside ServeStream returns.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		err = srv.ServeStream(ctx, conn)
		close(done)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warn("serial link dropped, reopening")
	}
}
