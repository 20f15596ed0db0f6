package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/vocdoni/anonvote-node/api"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/registry"
	"github.com/vocdoni/anonvote-node/voting"
)

// APIService represents a service that manages the HTTP API server.
type APIService struct {
	API          *api.API
	orchestrator *voting.Orchestrator
	registry     *registry.Registry
	vkHash       string
	mu           sync.Mutex
	cancel       context.CancelFunc
	host         string
	port         int
}

// NewAPI creates a new APIService instance.
func NewAPI(o *voting.Orchestrator, reg *registry.Registry, vkHash, host string, port int, disableLogging bool) *APIService {
	if disableLogging {
		api.DisabledLogging = disableLogging
		log.Debugw("API logging is disabled")
	}
	return &APIService{
		orchestrator: o,
		registry:     reg,
		vkHash:       vkHash,
		host:         host,
		port:         port,
	}
}

// Start begins the API server. It returns an error if the service
// is already running or if it fails to start.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		return fmt.Errorf("service already running")
	}
	var err error
	as.API, err = api.New(&api.APIConfig{
		Host:             as.host,
		Port:             as.port,
		Orchestrator:     as.orchestrator,
		Registry:         as.registry,
		VerifyingKeyHash: as.vkHash,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	var apiCtx context.Context
	apiCtx, as.cancel = context.WithCancel(ctx)
	if err := as.API.Start(apiCtx); err != nil {
		as.cancel()
		as.cancel = nil
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

// Stop halts the API server.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		as.cancel()
		as.cancel = nil
		as.API.Stop()
	}
}

// HostPort returns the host and port of the API server.
func (as *APIService) HostPort() (string, int) {
	return as.host, as.port
}
