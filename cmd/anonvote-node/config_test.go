package main

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/db"
)

func TestLoadConfig(t *testing.T) {
	c := qt.New(t)
	t.Setenv("ANONVOTE_REGISTRY_HISTORYSIZE", "2")
	t.Setenv("ANONVOTE_API_PORT", "8080")

	admin := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	cfg, err := loadConfig([]string{
		"--verifier.vkey=s3://circuits/key.vk",
		"--registry.admin=" + admin.Hex(),
		"--proposals.proposers=0x00000000000000000000000000000000000000bb,0x00000000000000000000000000000000000000cc",
		"--db.type=inmemory",
		"--datadir=/tmp/anonvote",
	})
	c.Assert(err, qt.IsNil)
	c.Assert(validateConfig(cfg), qt.IsNil)
	c.Assert(cfg.Registry.HistorySize, qt.Equals, 2)
	c.Assert(cfg.Registry.TreeDepth, qt.Equals, census.DefaultDepth)
	c.Assert(cfg.API.Port, qt.Equals, 8080)
	c.Assert(cfg.API.Host, qt.Equals, defaultAPIHost)
	c.Assert(cfg.Proposals.Proposers, qt.HasLen, 2)

	nc := nodeConfig(cfg)
	c.Assert(nc.DBType, qt.Equals, db.TypeInMemory)
	c.Assert(nc.DB.Path, qt.Equals, "/tmp/anonvote/db")
	c.Assert(nc.Registry.Admin, qt.Equals, admin)
	c.Assert(nc.Registry.HistorySize, qt.Equals, 2)
	c.Assert(nc.Voting.Proposers, qt.HasLen, 2)
	c.Assert(nc.S3, qt.Not(qt.IsNil))
	c.Assert(nc.S3.Region, qt.Equals, "us-east-1")
}

func TestValidateConfig(t *testing.T) {
	c := qt.New(t)
	valid := func() *Config {
		cfg, err := loadConfig([]string{"--verifier.vkey=key.vk"})
		c.Assert(err, qt.IsNil)
		return cfg
	}
	c.Assert(validateConfig(valid()), qt.IsNil)

	cfg := valid()
	cfg.Verifier.VKey = ""
	c.Assert(validateConfig(cfg), qt.ErrorMatches, "verifying key is required.*")

	cfg = valid()
	cfg.DB.Type = "sqlite"
	c.Assert(validateConfig(cfg), qt.ErrorMatches, `invalid database type "sqlite".*`)

	cfg = valid()
	cfg.Registry.Admin = "0x123"
	c.Assert(validateConfig(cfg), qt.ErrorMatches, `invalid admin address "0x123"`)

	cfg = valid()
	cfg.Proposals.Proposers = []string{"nope"}
	c.Assert(validateConfig(cfg), qt.ErrorMatches, `invalid proposer address "nope"`)

	cfg = valid()
	cfg.Registry.TreeDepth = 0
	c.Assert(validateConfig(cfg), qt.ErrorMatches, `tree depth must be in \[1, 32\]`)

	cfg = valid()
	cfg.DB.Type = db.TypeMongo
	cfg.DB.MongoURL = "mongodb://localhost"
	nc := nodeConfig(cfg)
	c.Assert(nc.DB.Path, qt.Equals, defaultMongoDatabase)
	c.Assert(nc.DB.MongoURL, qt.Equals, "mongodb://localhost")
	c.Assert(nc.S3, qt.IsNil)
}
