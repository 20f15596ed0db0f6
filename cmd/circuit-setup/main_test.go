package main

import (
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/anonvote-node/internal/testutil"
	"github.com/vocdoni/anonvote-node/verifier"
)

func TestWriteSnarkjsKey(t *testing.T) {
	c := qt.New(t)
	vk := testutil.Keys(t).VK
	path := filepath.Join(t.TempDir(), "vk.json")
	c.Assert(writeSnarkjsKey(path, vk), qt.IsNil)

	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	parsed, err := verifier.ParseVerifyingKey(data)
	c.Assert(err, qt.IsNil)
	c.Assert(parsed.G1.K, qt.DeepEquals, vk.G1.K)
	c.Assert(parsed.G1.Alpha.Equal(&vk.G1.Alpha), qt.IsTrue)
	c.Assert(parsed.G2.Gamma.Equal(&vk.G2.Gamma), qt.IsTrue)
	c.Assert(parsed.G2.Delta.Equal(&vk.G2.Delta), qt.IsTrue)
}

func TestObjectKey(t *testing.T) {
	c := qt.New(t)
	u := &S3Uploader{config: &S3Config{Bucket: "circuits"}}
	c.Assert(u.objectKey("/tmp/artifacts/abc.vk"), qt.Equals, "abc.vk")
	u.config.Prefix = "dev"
	c.Assert(u.objectKey("/tmp/artifacts/abc.vk"), qt.Equals, "dev/abc.vk")

	_, err := NewS3Uploader(t.Context(), &S3Config{})
	c.Assert(err, qt.ErrorMatches, "s3 upload not enabled")
	_, err = NewS3Uploader(t.Context(), &S3Config{Enabled: true})
	c.Assert(err, qt.ErrorMatches, "s3 access key and secret key are required")
}
