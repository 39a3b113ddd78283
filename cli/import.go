package cli

import (
	"context"
	"fmt"

	"github.com/bsaid97/go-spike-fixer/config"
	"github.com/bsaid97/go-spike-fixer/featurepool"
	"github.com/bsaid97/go-spike-fixer/logging"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newImportCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <files...>",
		Short: "Load GeoJSON or shapefile layers into the configured store",
		Long: `Copy every feature of the given files into the SQLite or MongoDB store,
one layer per file named after the file. Existing features with the same id
are replaced.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, root, args)
		},
	}
}

func runImport(cmd *cobra.Command, root *rootOptions, args []string) error {
	ctx := cmd.Context()
	cfg, err := root.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewWithWriter(cfg.Log, root.errOut)

	var insert func(ctx context.Context, layer string, f *featurepool.Feature) error
	switch cfg.Store.Kind {
	case config.StoreSQLite:
		store, err := featurepool.OpenSQLite(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Initialize(); err != nil {
			return err
		}
		insert = store.Insert
	case config.StoreMongo:
		client, err := featurepool.ConnectMongo(ctx, cfg.Store.URI)
		if err != nil {
			return err
		}
		defer client.Disconnect(context.Background())
		pools := make(map[string]*featurepool.MongoPool)
		insert = func(ctx context.Context, layer string, f *featurepool.Feature) error {
			pool, ok := pools[layer]
			if !ok {
				pool = featurepool.NewMongoPool(client, cfg.Store.Database, layer, logger)
				pools[layer] = pool
			}
			return pool.Insert(ctx, f)
		}
	default:
		return fmt.Errorf("import needs a sqlite or mongo store, got %q", cfg.Store.Kind)
	}

	green := color.New(color.FgGreen)
	for _, path := range args {
		layer := layerName(path)
		pool, err := readLayerFile(layer, path)
		if err != nil {
			return err
		}
		features := pool.Features()
		for _, f := range features {
			if err := insert(ctx, layer, f); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		logger.Info(ctx, "layer imported", logging.String("layer", layer), logging.Int("features", len(features)))
		green.Fprintf(root.out, "Imported %d feature(s) into %s\n", len(features), layer)
	}
	return nil
}
