package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/verifier"
	"github.com/vocdoni/anonvote-node/voting"
)

const (
	defaultAPIHost       = "0.0.0.0"
	defaultAPIPort       = 9090
	defaultLogLevel      = "info"
	defaultLogOutput     = "stdout"
	defaultDatadir       = ".anonvote" // Will be prefixed with user's home directory
	defaultDBType        = db.TypePebble
	defaultMongoDatabase = "anonvote"
)

// Version is the build version, set at build time with -ldflags
var Version = "dev"

var dbTypes = []string{db.TypePebble, db.TypeLevelDB, db.TypeMongo, db.TypeInMemory}

// Config holds the application configuration
type Config struct {
	API       APIConfig
	DB        DBConfig
	Registry  RegistryConfig
	Proposals ProposalsConfig
	Verifier  VerifierConfig
	Events    EventsConfig
	S3        S3Config
	Log       LogConfig
	Datadir   string
}

// APIConfig holds the API-specific configuration
type APIConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	DisableLogging bool   `mapstructure:"disableLogging"`
}

// DBConfig selects the storage backend
type DBConfig struct {
	Type          string `mapstructure:"type"`
	MongoURL      string `mapstructure:"mongoURL"`
	MongoDatabase string `mapstructure:"mongoDatabase"`
}

// RegistryConfig holds the commitment registry configuration
type RegistryConfig struct {
	HistorySize int    `mapstructure:"historySize"`
	TreeDepth   int    `mapstructure:"treeDepth"`
	Admin       string `mapstructure:"admin"`
}

// ProposalsConfig holds the proposal creation policy
type ProposalsConfig struct {
	Proposers []string `mapstructure:"proposers"`
}

// VerifierConfig locates the verifying key
type VerifierConfig struct {
	VKey      string `mapstructure:"vkey"`
	VKeyHash  string `mapstructure:"vkeyHash"`
	CacheSize int    `mapstructure:"cacheSize"`
}

// EventsConfig sizes the event hub
type EventsConfig struct {
	History int `mapstructure:"history"`
}

// S3Config holds the object storage used for s3:// verifying keys
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"accessKey"`
	SecretKey string `mapstructure:"secretKey"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// loadConfig loads configuration from flags, environment variables, and defaults
func loadConfig(args []string) (*Config, error) {
	v := viper.New()

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	fs := flag.NewFlagSet("anonvote-node", flag.ContinueOnError)
	fs.StringP("api.host", "a", defaultAPIHost, "API host")
	fs.IntP("api.port", "p", defaultAPIPort, "API port, 0 disables the API")
	fs.Bool("api.disableLogging", false, "disable the API request logging")
	fs.StringP("datadir", "d", defaultDatadirPath, "data directory for database files")
	fs.String("db.type", defaultDBType, fmt.Sprintf("database backend %v", dbTypes))
	fs.String("db.mongoURL", "", "MongoDB connection string (db.type=mongodb)")
	fs.String("db.mongoDatabase", defaultMongoDatabase, "MongoDB database name (db.type=mongodb)")
	fs.Int("registry.historySize", 0, "number of superseded membership roots still accepted")
	fs.Int("registry.treeDepth", census.DefaultDepth, "membership tree depth, must match the circuit")
	fs.String("registry.admin", "", "address allowed to rotate the root and add members")
	fs.StringSlice("proposals.proposers", []string{}, "addresses allowed to create proposals, empty allows anyone")
	fs.StringP("verifier.vkey", "k", "", "verifying key location: path, http(s) URL or s3://bucket/key (required)")
	fs.String("verifier.vkeyHash", "", "expected sha256 of the verifying key file")
	fs.Int("verifier.cacheSize", verifier.DefaultCacheSize, "verification results cache size, 0 disables it")
	fs.Int("events.history", voting.DefaultEventsHistory, "number of recent events kept for the API")
	fs.String("s3.endpoint", "", "S3 endpoint, empty for AWS")
	fs.String("s3.region", "us-east-1", "S3 region")
	fs.String("s3.accessKey", "", "S3 access key, empty uses the default credential chain")
	fs.String("s3.secretKey", "", "S3 secret key")
	fs.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "anonvote-node %s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: anonvote-node [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  with the ANONVOTE_ prefix and dots (.) replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, ANONVOTE_VERIFIER_VKEY or ANONVOTE_API_PORT\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  anonvote-node --verifier.vkey=artifacts/<hash>.vk --registry.admin=0x123...\n")
		fmt.Fprintf(os.Stderr, "  anonvote-node --verifier.vkey=s3://circuits/<hash>.vk --db.type=mongodb --db.mongoURL=mongodb://localhost\n")
	}
	fs.SortFlags = false
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("ANONVOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Verifier.VKey == "" {
		return fmt.Errorf("verifying key is required (use --verifier.vkey flag or ANONVOTE_VERIFIER_VKEY environment variable)")
	}
	if !slices.Contains(dbTypes, cfg.DB.Type) {
		return fmt.Errorf("invalid database type %q, available types: %v", cfg.DB.Type, dbTypes)
	}
	if cfg.Registry.Admin != "" && !common.IsHexAddress(cfg.Registry.Admin) {
		return fmt.Errorf("invalid admin address %q", cfg.Registry.Admin)
	}
	for _, p := range cfg.Proposals.Proposers {
		if !common.IsHexAddress(p) {
			return fmt.Errorf("invalid proposer address %q", p)
		}
	}
	if cfg.Registry.HistorySize < 0 {
		return fmt.Errorf("registry history size must not be negative")
	}
	if cfg.Registry.TreeDepth < 1 || cfg.Registry.TreeDepth > census.MaxDepth {
		return fmt.Errorf("tree depth must be in [1, %d]", census.MaxDepth)
	}
	return nil
}
