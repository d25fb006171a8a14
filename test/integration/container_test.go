//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const postgresImage = "postgres:16-alpine"

// startPostgres returns a connection string for a throwaway database. When
// MEDTRACKER_TEST_DATABASE_URL is set that database is used as is; otherwise
// a container is started with the docker CLI and removed by the returned stop
// function.
func startPostgres(ctx context.Context) (string, func(), error) {
	if url := os.Getenv("MEDTRACKER_TEST_DATABASE_URL"); url != "" {
		return url, func() {}, nil
	}

	out, err := docker(ctx, "run", "-d", "--rm",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=medtracker",
		"-e", "POSTGRES_PASSWORD=medtracker",
		"-e", "POSTGRES_DB=medtracker_test",
		postgresImage)
	if err != nil {
		return "", nil, err
	}
	id := out
	stop := func() { _, _ = docker(context.Background(), "rm", "-f", id) }

	// docker prints e.g. "127.0.0.1:49153" for the published port.
	addr, err := docker(ctx, "port", id, "5432/tcp")
	if err != nil {
		stop()
		return "", nil, err
	}
	addr, _, _ = strings.Cut(addr, "\n")

	url := fmt.Sprintf("postgres://medtracker:medtracker@%s/medtracker_test?sslmode=disable", addr)
	if err := waitForPostgres(ctx, url, 30*time.Second); err != nil {
		stop()
		return "", nil, err
	}
	return url, stop, nil
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

// waitForPostgres retries a connection until the server answers or the
// timeout passes. The entrypoint restarts postgres once after init, so a
// single successful ping right after start is not trusted until it repeats.
func waitForPostgres(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ready := 0
	var lastErr error
	for ready < 2 {
		conn, err := pgx.Connect(ctx, url)
		if err == nil {
			err = conn.Ping(ctx)
			conn.Close(ctx)
		}
		if err == nil {
			ready++
		} else {
			ready, lastErr = 0, err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %s: %v", timeout, lastErr)
		case <-time.After(300 * time.Millisecond):
		}
	}
	return nil
}
