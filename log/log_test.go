package log_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonvote-node/log"
)

func TestInitWriter(t *testing.T) {
	c := qt.New(t)
	previous := log.Level()
	defer func() { log.Init(previous, "stderr", nil) }()

	c.Run("invalid level", func(c *qt.C) {
		c.Assert(log.InitWriter("verbose", &bytes.Buffer{}), qt.ErrorMatches, `invalid log level: "verbose"`)
	})

	c.Run("filters by level", func(c *qt.C) {
		buf := &bytes.Buffer{}
		c.Assert(log.InitWriter(log.LogLevelWarn, buf), qt.IsNil)
		c.Assert(log.Level(), qt.Equals, log.LogLevelWarn)

		log.Infow("hidden", "key", "value")
		c.Assert(buf.Len(), qt.Equals, 0)

		log.Warnw("visible", "proposal", 7)
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		c.Assert(lines, qt.HasLen, 1)

		entry := map[string]any{}
		c.Assert(json.Unmarshal([]byte(lines[0]), &entry), qt.IsNil)
		c.Assert(entry["message"], qt.Equals, "visible")
		c.Assert(entry["level"], qt.Equals, "warn")
		c.Assert(entry["proposal"], qt.Equals, float64(7))
		c.Assert(entry["caller"], qt.Matches, `log/log_test\.go:\d+`)
	})

	c.Run("errors are attached", func(c *qt.C) {
		buf := &bytes.Buffer{}
		c.Assert(log.InitWriter(log.LogLevelDebug, buf), qt.IsNil)
		log.Errorw(errors.New("boom"), "storage failure")

		entry := map[string]any{}
		c.Assert(json.Unmarshal(buf.Bytes(), &entry), qt.IsNil)
		c.Assert(entry["error"], qt.Equals, "boom")
		c.Assert(entry["message"], qt.Equals, "storage failure")
	})
}
