package membership

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/vocdoni/anonvote-node/log"
)

// Compile compiles the circuit for a tree of the given depth over BN254.
func Compile(depth int) (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewCircuit(depth))
	if err != nil {
		return nil, fmt.Errorf("could not compile membership circuit: %w", err)
	}
	return ccs, nil
}

// Setup runs a Groth16 setup for the compiled circuit. The toxic waste is
// generated locally, so the resulting keys are suitable for development
// and tests only.
func Setup(ccs constraint.ConstraintSystem) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("could not setup membership circuit: %w", err)
	}
	return pk, vk, nil
}

// Artifacts are the files written by WriteArtifacts, by kind. Each file is
// named after the hex sha256 hash of its content.
type Artifacts struct {
	ConstraintSystem string `json:"ccs"`
	ProvingKey       string `json:"pk"`
	VerifyingKey     string `json:"vk"`
	Solidity         string `json:"solidity,omitempty"`
}

// Files returns the paths of all the written artifacts.
func (a *Artifacts) Files(dir string) []string {
	files := []string{
		filepath.Join(dir, a.ConstraintSystem+".ccs"),
		filepath.Join(dir, a.ProvingKey+".pk"),
		filepath.Join(dir, a.VerifyingKey+".vk"),
	}
	if a.Solidity != "" {
		files = append(files, filepath.Join(dir, a.Solidity+".sol"))
	}
	return files
}

// WriteArtifacts writes the constraint system, the keys and a Solidity
// verifier to dir and returns their hashes.
func WriteArtifacts(dir string, ccs constraint.ConstraintSystem, pk groth16.ProvingKey, vk groth16.VerifyingKey) (*Artifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create %s: %w", dir, err)
	}
	var err error
	a := &Artifacts{}
	if a.ConstraintSystem, err = writeToFile(dir, "ccs", func(w io.Writer) error {
		_, err := ccs.WriteTo(w)
		return err
	}); err != nil {
		return nil, fmt.Errorf("constraint system: %w", err)
	}
	if a.ProvingKey, err = writeToFile(dir, "pk", func(w io.Writer) error {
		_, err := pk.WriteTo(w)
		return err
	}); err != nil {
		return nil, fmt.Errorf("proving key: %w", err)
	}
	if a.VerifyingKey, err = writeToFile(dir, "vk", func(w io.Writer) error {
		_, err := vk.WriteTo(w)
		return err
	}); err != nil {
		return nil, fmt.Errorf("verifying key: %w", err)
	}
	if bnVk, ok := vk.(*groth16_bn254.VerifyingKey); ok {
		if a.Solidity, err = writeToFile(dir, "sol", func(w io.Writer) error {
			return bnVk.ExportSolidity(w)
		}); err != nil {
			return nil, fmt.Errorf("solidity verifier: %w", err)
		}
	}
	return a, nil
}

// writeToFile streams the content to a temporary file while hashing it and
// renames it to <sha256>.<ext> once complete.
func writeToFile(dir, ext string, writeFunc func(w io.Writer) error) (string, error) {
	hashFn := sha256.New()
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tempFilename := tempFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tempFile.Close()
			if err := os.Remove(tempFilename); err != nil {
				log.Warnw("failed to remove temp file", "error", err, "path", tempFilename)
			}
		}
	}()

	if err := writeFunc(io.MultiWriter(hashFn, tempFile)); err != nil {
		return "", fmt.Errorf("failed to write content: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	hash := hex.EncodeToString(hashFn.Sum(nil))
	finalFilename := filepath.Join(dir, fmt.Sprintf("%s.%s", hash, ext))
	if err := os.Rename(tempFilename, finalFilename); err != nil {
		return "", fmt.Errorf("failed to rename temp file to %s: %w", finalFilename, err)
	}
	success = true
	return hash, nil
}
