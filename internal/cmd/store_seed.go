package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/treeaudit/internal/config"
	"github.com/3leaps/treeaudit/internal/observability"
	"github.com/3leaps/treeaudit/pkg/contentstore"
	"github.com/3leaps/treeaudit/pkg/contentstore/memory"
	s3store "github.com/3leaps/treeaudit/pkg/contentstore/s3"
	"github.com/3leaps/treeaudit/pkg/contentstore/sqlite"
)

var storeSeedCmd = &cobra.Command{
	Use:   "seed <tree.yaml>",
	Short: "Import a YAML tree document into the store",
	Long: `Import a YAML tree document into the configured persistent store.

For sqlite the tree replaces the stored tree, and store.username and
store.password (when a password is set) are registered as the principal.
For s3 folder-typed nodes become key prefixes and every other node is
written as a <path>.node.json document; existing objects are kept.

Example:
  treeaudit store seed testdata/dam.yaml
  TREEAUDIT_STORE_BACKEND=s3 TREEAUDIT_S3_BUCKET=dam treeaudit store seed dam.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runStoreSeed,
}

var (
	storeExportOutput string
)

var storeExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the stored tree as a YAML document",
	Long: `Print the tree held by a sqlite or memory store as a YAML tree
document, in the same format "store seed" reads.`,
	Args: cobra.NoArgs,
	RunE: runStoreExport,
}

func init() {
	storeCmd.AddCommand(storeSeedCmd)
	storeCmd.AddCommand(storeExportCmd)

	storeExportCmd.Flags().StringVarP(&storeExportOutput, "output", "o", "", "Write to file instead of stdout")
}

func runStoreSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	root, err := contentstore.LoadTree(args[0])
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return exitError(foundry.ExitFileNotFound, "Tree file not found", err)
		}
		return exitError(foundry.ExitFileReadError, "Failed to read tree file", err)
	}

	if cfg.Store.Backend == config.BackendMemory {
		return exitError(foundry.ExitInvalidArgument, "Cannot seed the memory store",
			fmt.Errorf("the memory backend is not persistent; set store.seed instead"))
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open store", err)
	}
	defer closeStore(store)

	switch st := store.(type) {
	case *sqlite.Store:
		if err := st.Seed(ctx, root); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to seed store", err)
		}
		if cfg.Store.Password != "" {
			if err := st.AddPrincipal(ctx, cfg.Store.Username, cfg.Store.Password); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to register principal", err)
			}
		}
	case *s3store.Store:
		if err := st.Seed(ctx, root); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to seed store", err)
		}
	}

	nodes := 0
	_ = root.Walk("/", func(string, *contentstore.Node) error {
		nodes++
		return nil
	})
	observability.CLILogger.Info("Store seeded",
		zap.String("backend", cfg.Store.Backend),
		zap.String("file", args[0]),
		zap.Int("nodes", nodes))
	return nil
}

func runStoreExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open store", err)
	}
	defer closeStore(store)

	var root *contentstore.Node
	switch st := store.(type) {
	case *sqlite.Store:
		if root, err = st.Export(ctx); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to export store", err)
		}
	case *memory.Store:
		root = st.Snapshot()
	default:
		return exitError(foundry.ExitInvalidArgument, "Export not supported",
			fmt.Errorf("backend %s cannot be exported", cfg.Store.Backend))
	}

	var w io.Writer = cmd.OutOrStdout()
	if storeExportOutput != "" {
		f, err := os.Create(storeExportOutput)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write tree", err)
	}
	if err := enc.Close(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write tree", err)
	}
	return nil
}
