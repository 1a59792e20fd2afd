package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/treeaudit/internal/config"
	"github.com/3leaps/treeaudit/internal/observability"
	"github.com/3leaps/treeaudit/pkg/audit"
	"github.com/3leaps/treeaudit/pkg/contentstore"
	"github.com/3leaps/treeaudit/pkg/contentstore/memory"
	s3store "github.com/3leaps/treeaudit/pkg/contentstore/s3"
	"github.com/3leaps/treeaudit/pkg/contentstore/sqlite"
	"github.com/3leaps/treeaudit/pkg/output"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the configured content store",
	Long: `Manage the content store selected by store.backend.

Subcommands import a YAML tree document into a persistent store and export
a store's tree for inspection.`,
}

func init() {
	rootCmd.AddCommand(storeCmd)
}

// openStore builds the content store selected by cfg. The memory backend
// is loaded from store.seed when set, otherwise it starts as an empty root.
func openStore(ctx context.Context, cfg *config.Config) (contentstore.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		root := &contentstore.Node{Type: rootType(cfg)}
		if cfg.Store.Seed != "" {
			var err error
			if root, err = contentstore.LoadTree(cfg.Store.Seed); err != nil {
				return nil, err
			}
		}
		return memory.New(root, memory.Config{Username: cfg.Store.Username, Password: cfg.Store.Password}), nil

	case config.BackendSQLite:
		st, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Store.SQLite.Path})
		if err != nil {
			return nil, err
		}
		return st, nil

	case config.BackendS3:
		st, err := s3store.New(ctx, s3Config(cfg))
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
}

func s3Config(cfg *config.Config) s3store.Config {
	return s3store.Config{
		Bucket:   cfg.Store.S3.Bucket,
		Prefix:   cfg.Store.S3.Prefix,
		Region:   cfg.Store.S3.Region,
		Endpoint: cfg.Store.S3.Endpoint,
		Profile:  cfg.Store.S3.Profile,
		// S3-compatible services (moto, MinIO, etc.) require path-style URLs.
		ForcePathStyle: cfg.Store.S3.ForcePathStyle || cfg.Store.S3.Endpoint != "",
		FolderTypes:    cfg.Audit.ContainerTypes,
	}
}

func rootType(cfg *config.Config) string {
	if len(cfg.Audit.ContainerTypes) > 0 {
		return cfg.Audit.ContainerTypes[0]
	}
	return s3store.DefaultFolderType
}

func closeStore(store contentstore.Store) {
	if err := store.Close(); err != nil {
		observability.CLILogger.Warn("Failed to close store", zap.Error(err))
	}
}

// reportOpener returns an opener writing JSONL reports to dest. "-" writes
// to stdout and "{run_id}" in a path is replaced per run. Empty dest
// disables reports.
func reportOpener(dest, storeName string, stdout io.Writer) audit.ReportOpener {
	if dest == "" {
		return nil
	}
	return func(runID string) (output.Writer, error) {
		if dest == "-" || dest == "stdout" {
			return output.NewJSONLWriter(stdout, runID, storeName), nil
		}

		path := strings.ReplaceAll(strings.TrimPrefix(dest, "file:"), "{run_id}", runID)
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create report directory %s: %w", dir, err)
			}
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create report file %s: %w", path, err)
		}
		return &fileReport{JSONLWriter: output.NewJSONLWriter(f, runID, storeName), f: f}, nil
	}
}

// fileReport closes the report file together with its writer.
type fileReport struct {
	*output.JSONLWriter
	f *os.File
}

func (r *fileReport) Close() error {
	werr := r.JSONLWriter.Close()
	if err := r.f.Close(); err != nil {
		return err
	}
	return werr
}
