package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/shopfabric/mesh/internal/config"
	"github.com/shopfabric/mesh/internal/domain"
	"github.com/shopfabric/mesh/internal/handler"
	"github.com/shopfabric/mesh/internal/service"
	"github.com/shopfabric/mesh/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// httpTransport is the injected transport used by the daemon: a plain JSON
// POST to the instance address. The mesh core never depends on it; route
// layers embed the mesh with their own transport instead.
func httpTransport(client *http.Client) domain.TransportFunc {
	return func(ctx context.Context, instance domain.Instance, method string, payload interface{}) (interface{}, error) {
		body, err := json.Marshal(map[string]interface{}{"method": method, "payload": payload})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, instance.Address, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("instance %s returned status %d", instance.ID, resp.StatusCode)
		}

		var result interface{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, err
		}
		return result, nil
	}
}

// httpProbe marks an instance healthy when GET <address>/health returns 2xx
func httpProbe(client *http.Client) domain.ProbeFunc {
	return func(ctx context.Context, instance domain.Instance) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, instance.Address+"/health", nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("probe returned status %d", resp.StatusCode)
		}
		return nil
	}
}

func main() {
	configPath := flag.String("config", "mesh.yaml", "path to the mesh configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"services":   len(cfg.Services),
		"admin_port": cfg.Admin.Port,
	}).Info("Starting service mesh")

	client := &http.Client{Timeout: cfg.ProbeTimeout()}

	registry := service.NewRegistry(log)
	mesh := service.NewMesh(registry, httpTransport(client), httpProbe(client), cfg.ProbeTimeout(), log)

	exporter := service.NewExporter()
	mesh.SetExporter(exporter)

	for _, svc := range cfg.Services {
		if err := mesh.RegisterService(svc.Name, svc.ToDomain()); err != nil {
			log.WithError(err).Fatalf("Failed to register service %s", svc.Name)
		}
	}
	log.Infof("Registered %d services", len(cfg.Services))

	if !cfg.Admin.Enabled {
		log.Info("Admin server disabled, waiting for shutdown signal")
		waitForSignal(log)
		return
	}

	router := mux.NewRouter()
	handler.NewAdminHandler(mesh, exporter, log).RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Admin server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Admin server failed")
		}
	}()

	waitForSignal(log)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Admin server shutdown failed")
	}
	log.Info("Service mesh stopped")
}

func waitForSignal(log *logger.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("Received signal %v, shutting down", sig)
}
