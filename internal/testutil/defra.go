package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/epubify/internal/defra"
)

// TestLabel is set on every task store container a test starts, with the
// test name as its value. Leftovers from interrupted runs can be removed with
// docker rm -f $(docker ps -aq --filter label=epubify-test).
const TestLabel = "epubify-test"

// WithDefra gives the server its own DefraDB task store container on a free
// port, removed when the test ends. The test is skipped when Docker is not
// reachable.
func (c ServerConfig) WithDefra(t *testing.T) ServerConfig {
	t.Helper()

	port, err := FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port for DefraDB: %v", err)
	}
	c.Defra = defra.ContainerConfig{
		Name:     ContainerName(t),
		HostPort: port,
		Labels:   map[string]string{TestLabel: t.Name()},
	}

	ctr, err := defra.NewContainer(c.Defra)
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctr.Ping(ctx); err != nil {
		ctr.Close()
		t.Skipf("%v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := ctr.Remove(ctx); err != nil {
			t.Logf("failed to remove %s: %v", ctr.Name(), err)
		}
		ctr.Close()
	})
	return c
}

// ContainerName returns a Docker-safe container name unique to this run of t.
func ContainerName(t testing.TB) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '/' || r == '_' || r == '-':
			return '-'
		}
		return -1
	}, t.Name())
	if len(name) > 30 {
		name = name[:30]
	}

	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return defra.NamePrefix + "test-" + name + "-" + hex.EncodeToString(suffix)
}
