package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/user"

	"github.com/stratusworks/fsmux"
	"github.com/stratusworks/fsmux/backend/httpfs"
	"github.com/stratusworks/fsmux/backend/ipfsfs"
	"github.com/stratusworks/fsmux/backend/localfs"
	"github.com/stratusworks/fsmux/backend/memfs"
	"github.com/stratusworks/fsmux/backend/s3fs"
	"github.com/stratusworks/fsmux/backend/vaultfs"
	"github.com/stratusworks/fsmux/fs"
	"github.com/stratusworks/fsmux/netutil"
	"github.com/stratusworks/fsmux/stats"
)

// BuildMux constructs a multiplexer from the configuration, with a factory
// registered for every enabled backend. Disabled backends are not
// registered at all, so their URIs fail resolution with ErrUnknownScheme.
func BuildMux(cfg *Config, log *slog.Logger) (*fsmux.Mux, error) {
	opts := []fsmux.Option{
		fsmux.WithLogger(log),
		fsmux.WithStats(stats.NewRegistry()),
	}

	if cfg.Mux.DefaultURI != "" {
		def, err := fs.ParsePath(cfg.Mux.DefaultURI)
		if err != nil {
			return nil, fmt.Errorf("mux.default_uri: %w", err)
		}
		opts = append(opts, fsmux.WithDefaultURI(def))
	}

	switch cfg.Mux.Canonicalizer {
	case "dns":
		opts = append(opts, fsmux.WithCanonicalizer(netutil.NewDNS(cfg.Mux.Resolver, log)))
	case "", "fold":
		// Fold is the Mux default.
	default:
		return nil, fmt.Errorf("unknown canonicalizer: %q", cfg.Mux.Canonicalizer)
	}

	principal, err := Principal(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, fsmux.WithIdentity(principal))

	m := fsmux.New(opts...)

	if err := registerBackends(m, cfg, log); err != nil {
		return nil, err
	}
	return m, nil
}

func registerBackends(m *fsmux.Mux, cfg *Config, log *slog.Logger) error {
	b := &cfg.Backends

	if b.Mem.Enabled {
		if err := m.Register("mem", memfs.Factory(log)); err != nil {
			return err
		}
	}

	if b.Local.Enabled {
		if err := m.Register("file", localfs.Factory(b.Local.Base, log)); err != nil {
			return err
		}
	}

	if b.S3.Enabled {
		factory := s3fs.Factory(s3fs.Options{
			Region:         b.S3.Region,
			Endpoint:       b.S3.Endpoint,
			AccessKey:      b.S3.AccessKey,
			SecretKey:      b.S3.SecretKey,
			ForcePathStyle: b.S3.ForcePathStyle,
		}, log)
		if err := m.Register("s3", factory); err != nil {
			return err
		}
	}

	if b.IPFS.Enabled {
		if err := m.Register("ipfs", ipfsfs.Factory(log)); err != nil {
			return err
		}
	}

	if b.Vault.Enabled {
		factory := vaultfs.Factory(vaultfs.Options{
			Address: b.Vault.Address,
			Token:   b.Vault.Token,
			Mount:   b.Vault.Mount,
			Timeout: b.Vault.Timeout,
		}, log)
		if err := m.Register("vault", factory); err != nil {
			return err
		}
	}

	if b.HTTP.Enabled {
		client := &http.Client{Timeout: b.HTTP.Timeout}
		for _, scheme := range []string{"http", "https"} {
			if err := m.Register(scheme, httpfs.Factory(client, log)); err != nil {
				return err
			}
		}
	}

	return nil
}

// Identity supplies the acting principal for handles resolved through the
// configured multiplexer. It implements fs.IdentityProvider: the override
// wins when set, otherwise the current OS user is used.
type Identity struct {
	Override string
}

var _ fs.IdentityProvider = Identity{}

// Current implements fs.IdentityProvider.
func (id Identity) Current(ctx context.Context) (fs.Principal, error) {
	if id.Override != "" {
		return fs.Principal{Name: id.Override}, nil
	}

	u, err := user.Current()
	if err != nil {
		return fs.Principal{}, fmt.Errorf("failed to determine current user: %w", err)
	}
	return fs.Principal{Name: u.Username}, nil
}

// Principal returns the acting principal: the configured identity override,
// or the current OS user when none is set.
func Principal(cfg *Config) (fs.Principal, error) {
	return Identity{Override: cfg.Mux.Identity}.Current(context.Background())
}
