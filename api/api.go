// Package api exposes the voting node over HTTP with a JSON interface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/registry"
	"github.com/vocdoni/anonvote-node/voting"
)

const (
	maxRequestBodyLog = 512 // Maximum length of request body to log
	shutdownTimeout   = 10 * time.Second
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host             string
	Port             int
	Orchestrator     *voting.Orchestrator
	Registry         *registry.Registry
	VerifyingKeyHash string // Reported by the info endpoint
}

// API type represents the API HTTP server.
type API struct {
	router       *chi.Mux
	orchestrator *voting.Orchestrator
	registry     *registry.Registry
	vkHash       string
	addr         string

	mu     sync.Mutex
	server *http.Server
}

// New creates a new API instance with the given configuration. The server
// is not listening until Start is called.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Orchestrator == nil {
		return nil, fmt.Errorf("missing orchestrator instance")
	}
	if conf.Registry == nil {
		return nil, fmt.Errorf("missing registry instance")
	}
	a := &API{
		orchestrator: conf.Orchestrator,
		registry:     conf.Registry,
		vkHash:       conf.VerifyingKeyHash,
		addr:         net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
	}
	a.initRouter()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// Start listens on the configured address and serves the API in the
// background until ctx is done or Stop is called.
func (a *API) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return fmt.Errorf("API server already running")
	}
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.addr, err)
	}
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.server = srv
	go func() {
		log.Infow("starting API server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw(err, "API server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		a.Stop()
	}()
	return nil
}

// Stop gracefully shuts down the server. It is a no-op if it is not
// running.
func (a *API) Stop() {
	a.mu.Lock()
	srv := a.server
	a.server = nil
	a.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("API server shutdown", "error", err.Error())
	}
	log.Infow("API server stopped", "addr", a.addr)
}

// registerHandlers registers all the HTTP handlers for the API endpoints.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", InfoEndpoint, "method", "GET")
	a.router.Get(InfoEndpoint, a.info)
	// proposal endpoints
	log.Infow("register handler", "endpoint", ProposalsEndpoint, "method", "POST")
	a.router.Post(ProposalsEndpoint, a.newProposal)
	log.Infow("register handler", "endpoint", ProposalsEndpoint, "method", "GET", "parameters", "from,to")
	a.router.Get(ProposalsEndpoint, a.proposals)
	log.Infow("register handler", "endpoint", ProposalsCountEndpoint, "method", "GET")
	a.router.Get(ProposalsCountEndpoint, a.proposalCount)
	log.Infow("register handler", "endpoint", ProposalEndpoint, "method", "GET")
	a.router.Get(ProposalEndpoint, a.proposal)
	log.Infow("register handler", "endpoint", TalliesEndpoint, "method", "GET", "parameters", "from,to")
	a.router.Get(TalliesEndpoint, a.tallies)
	// vote endpoints
	log.Infow("register handler", "endpoint", VotesEndpoint, "method", "POST")
	a.router.Post(VotesEndpoint, a.newVote)
	log.Infow("register handler", "endpoint", NullifierEndpoint, "method", "GET")
	a.router.Get(NullifierEndpoint, a.nullifier)
	// registry endpoints
	log.Infow("register handler", "endpoint", RegistryRootEndpoint, "method", "GET")
	a.router.Get(RegistryRootEndpoint, a.root)
	log.Infow("register handler", "endpoint", RegistryRootEndpoint, "method", "POST")
	a.router.Post(RegistryRootEndpoint, a.rotateRoot)
	log.Infow("register handler", "endpoint", RegistryMembersEndpoint, "method", "GET")
	a.router.Get(RegistryMembersEndpoint, a.members)
	log.Infow("register handler", "endpoint", RegistryMembersEndpoint, "method", "POST")
	a.router.Post(RegistryMembersEndpoint, a.addMembers)
	log.Infow("register handler", "endpoint", MemberProofEndpoint, "method", "GET")
	a.router.Get(MemberProofEndpoint, a.memberProof)
	// events
	log.Infow("register handler", "endpoint", EventsEndpoint, "method", "GET", "parameters", "since")
	a.router.Get(EventsEndpoint, a.events)

	a.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		ErrResourceNotFound.With(r.URL.Path).Write(w)
	})
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(requestIDMiddleware)
	a.router.Use(loggingMiddleware(DefaultLoggingConfig()))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}
