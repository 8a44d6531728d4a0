package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"backend-walklog/internal/config"
)

func TestRunPrintsToken(t *testing.T) {
	var out bytes.Buffer
	load := func() config.Config { return config.Config{JWTSecret: "secret", DeviceUserID: "local"} }
	if code := run([]string{"-ttl", "1h"}, &out, load); code != 0 {
		t.Fatalf("expected success, got %d", code)
	}
	if strings.Count(strings.TrimSpace(out.String()), ".") != 2 {
		t.Fatalf("expected a JWT, got %q", out.String())
	}
}

func TestRunFailures(t *testing.T) {
	load := func() config.Config { return config.Config{JWTSecret: "", DeviceUserID: "local"} }
	if code := run(nil, io.Discard, load); code != 1 {
		t.Fatalf("expected failure without secret, got %d", code)
	}
	if code := run([]string{"-bogus"}, io.Discard, load); code != 2 {
		t.Fatalf("expected usage error, got %d", code)
	}
}
