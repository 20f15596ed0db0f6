// Command anonvote-node runs an anonymous voting node: it keeps the
// membership registry and the proposals, verifies vote proofs and serves
// the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/registry"
	"github.com/vocdoni/anonvote-node/service"
	"github.com/vocdoni/anonvote-node/verifier"
	"github.com/vocdoni/anonvote-node/voting"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting anonvote-node", "version", Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := service.NewNode(ctx, nodeConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to setup node: %v", err)
	}
	defer node.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := node.Start(gctx); err != nil {
			return fmt.Errorf("failed to start node: %w", err)
		}
		log.Info("anonvote-node is running, ready to accept votes!")
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		events := node.Orchestrator.Events()
		id, ch := events.Subscribe()
		defer events.Unsubscribe(id)
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				log.Debugw("event", "seq", ev.Seq, "type", string(ev.Type), "proposalId", ev.ProposalID)
			}
		}
	})
	if err := g.Wait(); err != nil {
		log.Errorw(err, "node stopped")
		return
	}
	log.Infow("received signal, shutting down")
}

// nodeConfig translates the command configuration to the service one.
func nodeConfig(cfg *Config) *service.NodeConfig {
	nc := &service.NodeConfig{
		DBType: cfg.DB.Type,
		DB:     db.Options{Path: filepath.Join(cfg.Datadir, "db")},
		Registry: registry.Config{
			TreeDepth:   cfg.Registry.TreeDepth,
			HistorySize: cfg.Registry.HistorySize,
		},
		Voting: voting.Config{
			EventsHistory: cfg.Events.History,
		},
		VerifyingKey:      cfg.Verifier.VKey,
		VerifyingKeyHash:  cfg.Verifier.VKeyHash,
		VerifierCacheSize: cfg.Verifier.CacheSize,
		APIHost:           cfg.API.Host,
		APIPort:           cfg.API.Port,
		DisableAPILogging: cfg.API.DisableLogging,
	}
	if cfg.DB.Type == db.TypeMongo {
		nc.DB = db.Options{Path: cfg.DB.MongoDatabase, MongoURL: cfg.DB.MongoURL}
	}
	if cfg.Registry.Admin != "" {
		nc.Registry.Admin = common.HexToAddress(cfg.Registry.Admin)
	}
	for _, p := range cfg.Proposals.Proposers {
		nc.Voting.Proposers = append(nc.Voting.Proposers, common.HexToAddress(p))
	}
	if strings.HasPrefix(cfg.Verifier.VKey, "s3://") {
		nc.S3 = &verifier.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		}
	}
	return nc
}
