// Package service assembles the components of a voting node and manages
// their lifecycle.
package service

import (
	"context"
	"fmt"

	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/metadb"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/registry"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/verifier"
	"github.com/vocdoni/anonvote-node/voting"
)

// NodeConfig holds everything needed to build a node.
type NodeConfig struct {
	// DBType is one of the db.Type* backends.
	DBType string
	DB     db.Options

	Registry registry.Config
	Voting   voting.Config

	// VerifyingKey is the location of the verifying key: a local path, an
	// http(s) URL or an s3://bucket/key URI. VerifyingKeyHash, if set, is
	// the expected hex sha256 of its content.
	VerifyingKey      string
	VerifyingKeyHash  string
	VerifierCacheSize int
	// S3 enables s3:// locations for the verifying key.
	S3 *verifier.S3Config

	// APIPort zero or negative disables the HTTP API.
	APIHost           string
	APIPort           int
	DisableAPILogging bool
}

// Node holds the running components.
type Node struct {
	DB           db.Database
	Storage      *storage.Storage
	Registry     *registry.Registry
	Verifier     *verifier.Verifier
	Orchestrator *voting.Orchestrator
	API          *APIService
}

// NewNode opens the database, loads the verifying key and builds the voting
// core. Nothing is served until Start is called.
func NewNode(ctx context.Context, cfg *NodeConfig) (*Node, error) {
	var fetchers []verifier.Fetcher
	if cfg.S3 != nil {
		s3f, err := verifier.NewS3Fetcher(ctx, *cfg.S3)
		if err != nil {
			return nil, err
		}
		fetchers = append(fetchers, s3f)
	}
	log.Infow("loading verifying key", "uri", cfg.VerifyingKey)
	vk, err := verifier.NewLoader(fetchers...).LoadVerifyingKey(ctx, cfg.VerifyingKey, cfg.VerifyingKeyHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load verifying key: %w", err)
	}
	v, err := verifier.New(vk, cfg.VerifierCacheSize)
	if err != nil {
		return nil, err
	}

	log.Infow("initializing storage", "path", cfg.DB.Path, "type", cfg.DBType)
	database, err := metadb.NewWithOptions(cfg.DBType, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	n := &Node{DB: database, Storage: storage.New(database), Verifier: v}
	if n.Registry, err = registry.New(n.Storage, cfg.Registry); err != nil {
		n.close()
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}
	n.Orchestrator = voting.New(n.Storage, n.Registry, v, cfg.Voting)
	if cfg.APIPort > 0 {
		n.API = NewAPI(n.Orchestrator, n.Registry, v.VerifyingKeyHash(), cfg.APIHost, cfg.APIPort, cfg.DisableAPILogging)
	}
	log.Infow("node initialized",
		"verifyingKey", v.VerifyingKeyHash(),
		"root", n.Registry.CurrentRoot().String(),
		"treeDepth", n.Registry.TreeDepth(),
		"rootHistory", n.Registry.HistorySize())
	return n, nil
}

// Start starts the API, if enabled.
func (n *Node) Start(ctx context.Context) error {
	if n.API == nil {
		return nil
	}
	host, port := n.API.HostPort()
	log.Infow("starting API service", "host", host, "port", port)
	return n.API.Start(ctx)
}

// Stop stops the services in reverse order and closes the database.
func (n *Node) Stop() {
	if n.API != nil {
		n.API.Stop()
	}
	n.close()
}

func (n *Node) close() {
	if err := n.Storage.Close(); err != nil {
		log.Warnw("failed to close storage", "error", err.Error())
	}
}
