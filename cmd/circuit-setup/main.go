// Command circuit-setup compiles the membership circuit for a tree depth,
// runs a development Groth16 setup and writes the artifacts named by their
// sha256 hash. The keys are not suitable for production, where the setup
// must come from a ceremony.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	flag "github.com/spf13/pflag"

	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/circuits/membership"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/verifier"
)

// summary is printed to stdout once the artifacts are written.
type summary struct {
	Depth     int                   `json:"depth"`
	Artifacts *membership.Artifacts `json:"artifacts"`
	Snarkjs   string                `json:"snarkjs,omitempty"`
	Uploaded  []string              `json:"uploaded,omitempty"`
}

func main() {
	var (
		depth       int
		destination string
		snarkjs     bool
		logLevel    string
	)
	s3Config := &S3Config{}

	flag.IntVar(&depth, "depth", census.DefaultDepth, "membership tree depth")
	flag.StringVar(&destination, "destination", "artifacts", "destination folder for the artifacts")
	flag.BoolVar(&snarkjs, "snarkjs", true, "also write the verifying key as a snarkjs verification_key.json")
	flag.StringVar(&logLevel, "log.level", "info", "log level (debug, info, warn, error)")
	flag.BoolVar(&s3Config.Enabled, "s3.enabled", false, "upload the artifacts to S3")
	flag.StringVar(&s3Config.Endpoint, "s3.endpoint", "", "S3 endpoint, empty for AWS")
	flag.StringVar(&s3Config.Region, "s3.region", "us-east-1", "S3 region")
	flag.StringVar(&s3Config.AccessKey, "s3.accessKey", "", "S3 access key")
	flag.StringVar(&s3Config.SecretKey, "s3.secretKey", "", "S3 secret key")
	flag.StringVar(&s3Config.Bucket, "s3.bucket", "", "S3 bucket")
	flag.StringVar(&s3Config.Prefix, "s3.prefix", "", "key prefix inside the bucket")
	flag.BoolVar(&s3Config.Public, "s3.public", false, "make the uploaded artifacts public")
	flag.CommandLine.SortFlags = false
	flag.Parse()
	log.Init(logLevel, "stderr", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	if s3Config.Enabled {
		uploader, err := NewS3Uploader(ctx, s3Config)
		if err != nil {
			log.Fatalf("invalid S3 configuration: %v", err)
		}
		if err := uploader.TestConnection(ctx); err != nil {
			log.Fatal(err)
		}
	}

	startTime := time.Now()
	log.Infow("compiling membership circuit", "depth", depth)
	ccs, err := membership.Compile(depth)
	if err != nil {
		log.Fatal(err)
	}
	log.Infow("membership circuit compiled",
		"constraints", ccs.GetNbConstraints(),
		"elapsed", time.Since(startTime).String())

	startTime = time.Now()
	pk, vk, err := membership.Setup(ccs)
	if err != nil {
		log.Fatal(err)
	}
	log.Infow("setup done", "elapsed", time.Since(startTime).String())

	artifacts, err := membership.WriteArtifacts(destination, ccs, pk, vk)
	if err != nil {
		log.Fatalf("error writing artifacts: %v", err)
	}
	res := &summary{Depth: depth, Artifacts: artifacts}
	files := artifacts.Files(destination)
	if snarkjs {
		res.Snarkjs = filepath.Join(destination, artifacts.VerifyingKey+".json")
		if err := writeSnarkjsKey(res.Snarkjs, vk.(*groth16_bn254.VerifyingKey)); err != nil {
			log.Fatal(err)
		}
		files = append(files, res.Snarkjs)
	}
	log.Infow("artifacts written", "destination", destination, "vk", artifacts.VerifyingKey)

	if res.Uploaded, err = UploadFiles(ctx, files, s3Config); err != nil {
		log.Fatalf("error uploading artifacts: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatal(err)
	}
}

func writeSnarkjsKey(path string, vk *groth16_bn254.VerifyingKey) error {
	data, err := json.MarshalIndent(verifier.ToCircom(vk), "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode snarkjs verifying key: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	return nil
}
