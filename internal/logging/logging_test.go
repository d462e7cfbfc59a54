package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/BidScout/internal/config"
)

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	Configure(log, config.Logging{Level: "debug", Format: "json"}, &buf)

	log.WithField("cycle", "abc").Debug("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["cycle"] != "abc" || entry["msg"] != "hello" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestConfigureInvalidLevelFallsBack(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	Configure(log, config.Logging{Level: "loud"}, &buf)

	if log.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected info level, got %v", log.GetLevel())
	}
	if !strings.Contains(buf.String(), "Invalid log level") {
		t.Errorf("expected warning, got %q", buf.String())
	}
}
