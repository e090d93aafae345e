package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/opsledger/opsledger/internal/config"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/eventlog/filelog"
	"github.com/opsledger/opsledger/internal/eventlog/objectlog"
	"github.com/opsledger/opsledger/internal/eventlog/sqlitelog"
)

// LogFlags are the common backend-selection flags shared by the
// log-reading commands.
type LogFlags struct {
	Path    string // --log
	Backend string // --backend
	Config  string // --config (required for the object backend)
}

// openLog opens the selected event-log backend for reading or writing.
func openLog(flags LogFlags) (eventlog.Store, error) {
	switch flags.Backend {
	case config.BackendFile, "":
		return filelog.Open(flags.Path, filelog.Options{})
	case config.BackendSQLite:
		return sqlitelog.Open(flags.Path)
	case config.BackendObject:
		if flags.Config == "" {
			return nil, fmt.Errorf("object backend requires --config")
		}
		cfg, err := config.Load(flags.Config)
		if err != nil {
			return nil, err
		}
		creds, err := loadCredentials(cfg.ObjectStore.CredentialsRef)
		if err != nil {
			return nil, err
		}
		return objectlog.Open(objectlog.Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			Bucket:    cfg.ObjectStore.Bucket,
			Prefix:    cfg.ObjectStore.Prefix,
			Region:    cfg.ObjectStore.Region,
			AccessKey: creds.AccessKey,
			SecretKey: creds.SecretKey,
			UseTLS:    true,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", flags.Backend)
	}
}

// credentials is the minimal shape of a credentials_ref file: two lines,
// access key then secret key. Key management beyond this is the platform's
// concern.
type credentials struct {
	AccessKey string
	SecretKey string
}

func loadCredentials(ref string) (credentials, error) {
	if ref == "" {
		return credentials{}, fmt.Errorf("object_store.credentials_ref is not set")
	}
	raw, err := os.ReadFile(ref)
	if err != nil {
		return credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var access, secret string
	if _, err := fmt.Sscanf(string(raw), "%s\n%s", &access, &secret); err != nil {
		return credentials{}, fmt.Errorf("credentials file %s: expected two lines", ref)
	}
	return credentials{AccessKey: access, SecretKey: secret}, nil
}

// configureLogging installs the default slog handler per the verbose flag.
func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
