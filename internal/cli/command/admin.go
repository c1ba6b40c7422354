package command

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/workingdb/workingdb-go/internal/cli/connection"
	"github.com/workingdb/workingdb-go/internal/cli/output"
	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/server/httpserver/handler"
)

func adminClient(c *cli.Context) (*connection.HTTPClient, error) {
	mgr, err := connManager(c)
	if err != nil {
		return nil, err
	}
	return mgr.HTTP()
}

// StatsCommand shows engine statistics.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show engine statistics",
		Action: func(c *cli.Context) error {
			client, err := adminClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()

			var stats domain.Stats
			if err := client.Get(ctx, "/v1/stats", &stats); err != nil {
				return err
			}
			return render(c, &stats)
		},
	}
}

type keyView struct {
	Key       string     `json:"key"`
	Value     string     `json:"value"`
	Flags     uint32     `json:"flags"`
	Version   uint64     `json:"version"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	TTL       string     `json:"ttl"`
}

// KeyCommand shows a key with its metadata.
func KeyCommand() *cli.Command {
	return &cli.Command{
		Name:      "key",
		Usage:     "Inspect a key with its flags, version and expiry",
		ArgsUsage: "KEY",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			client, err := adminClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()

			var resp handler.KeyResponse
			if err := client.Get(ctx, "/v1/keys/"+url.PathEscape(c.Args().First()), &resp); err != nil {
				return err
			}
			view := keyView{
				Key:       resp.Key,
				Value:     string(resp.Value),
				Flags:     resp.Flags,
				Version:   resp.Version,
				ExpiresAt: resp.ExpiresAt,
				TTL:       "none",
			}
			if resp.TTLMillis >= 0 {
				view.TTL = durationMillis(resp.TTLMillis)
			}
			return render(c, &view)
		},
	}
}

// HealthCommand checks liveness and readiness.
func HealthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server liveness and readiness",
		Action: func(c *cli.Context) error {
			client, err := adminClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()

			var health handler.HealthResponse
			if err := client.Get(ctx, "/health", &health); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			ready := "ready"
			var apiErr *connection.APIError
			if err := client.Get(ctx, "/ready", nil); err != nil {
				if !errors.As(err, &apiErr) || apiErr.Status != http.StatusServiceUnavailable {
					return fmt.Errorf("readiness check failed: %w", err)
				}
				ready = "recovering"
			}

			if structured(c) {
				return render(c, map[string]string{
					"status":  health.Status,
					"ready":   ready,
					"version": health.Version,
					"target":  client.BaseURL(),
				})
			}
			fmt.Fprintf(stdout(c), "✓ Server is %s (%s)\n", health.Status, ready)
			fmt.Fprintf(stdout(c), "  Target:  %s\n", client.BaseURL())
			if health.Version != "" {
				fmt.Fprintf(stdout(c), "  Version: %s\n", health.Version)
			}
			return nil
		},
	}
}

// SnapshotCommand asks the server to write a snapshot now.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Write a snapshot and compact the write log",
		Action: func(c *cli.Context) error {
			client, err := adminClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()

			var spinner *output.Spinner
			if !structured(c) {
				spinner = output.NewSpinner(c.App.ErrWriter, "Writing snapshot...")
				spinner.Start()
			}
			var snap handler.SnapshotResponse
			err = client.Post(ctx, "/admin/v1/snapshot", &snap)
			if spinner != nil {
				if err != nil {
					spinner.Fail("Snapshot failed")
				} else {
					spinner.Success("Snapshot written")
				}
			}
			if err != nil {
				return err
			}
			return render(c, &snap)
		},
	}
}

// SweepCommand runs one expiry sweep on the server.
func SweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Remove expired keys now",
		Action: func(c *cli.Context) error {
			client, err := adminClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()

			var res handler.SweepResponse
			if err := client.Post(ctx, "/admin/v1/sweep", &res); err != nil {
				return err
			}
			if structured(c) {
				return render(c, &res)
			}
			fmt.Fprintf(stdout(c), "Removed %d expired key(s)\n", res.Removed)
			return nil
		},
	}
}
