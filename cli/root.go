// Package cli implements the spikefix command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bsaid97/go-spike-fixer/config"
	"github.com/bsaid97/go-spike-fixer/featurepool"
	"github.com/bsaid97/go-spike-fixer/handlers"
	"github.com/bsaid97/go-spike-fixer/logging"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	minAngle   float64
	tolerance  float64
	workers    int
	logLevel   string
	storeKind  string
	storePath  string
	storeURI   string
	database   string
	layers     []string

	out    io.Writer
	errOut io.Writer
}

// cmdContext holds the resources opened for one command run.
type cmdContext struct {
	Config *config.Config
	Logger logging.Logger
	Pools  map[string]featurepool.Pool
	// Files maps file-backed layers to their source path.
	Files  map[string]string
	Memory map[string]*featurepool.MemoryPool
	SQLite *featurepool.SQLiteStore
	Mongo  *mongo.Client
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.SQLite != nil {
		c.SQLite.Close()
	}
	if c.Mongo != nil {
		c.Mongo.Disconnect(context.Background())
	}
}

// NewRootCmd builds the command tree writing to out and errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{out: out, errOut: errOut}

	rootCmd := &cobra.Command{
		Use:   "spikefix",
		Short: "Find and remove spikes in vector layers",
		Long: `spikefix finds vertices whose angle between the two adjacent edges is
below a threshold, the thin spikes and needles that digitizing errors leave in
lines and polygons, and removes them.

Layers are read from GeoJSON or shapefile inputs, or from a SQLite or MongoDB
feature store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	f := rootCmd.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml or .toml)")
	f.Float64Var(&opts.minAngle, "min-angle", config.DefaultMinAngle, "Minimum vertex angle in degrees")
	f.Float64Var(&opts.tolerance, "tolerance", config.DefaultTolerance, "Squared distance under which two points coincide")
	f.IntVar(&opts.workers, "workers", 0, "Scan workers (default: number of CPUs)")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	f.StringVar(&opts.storeKind, "store", "", "Feature store (memory|sqlite|mongo)")
	f.StringVar(&opts.storePath, "store-path", "", "SQLite database path")
	f.StringVar(&opts.storeURI, "store-uri", "", "MongoDB connection URI")
	f.StringVar(&opts.database, "database", "", "MongoDB database")
	f.StringSliceVarP(&opts.layers, "layer", "l", nil, "Restrict to these store layers")

	rootCmd.AddCommand(newCheckCmd(opts))
	rootCmd.AddCommand(newFixCmd(opts))
	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newImportCmd(opts))
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd(os.Stdout, os.Stderr).Execute()
}

// loadConfig reads the config file and lets explicitly set flags win.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("min-angle") {
		cfg.MinAngle = o.minAngle
	}
	if flags.Changed("tolerance") {
		cfg.Tolerance = o.tolerance
	}
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("store") {
		cfg.Store.Kind = o.storeKind
	}
	if flags.Changed("store-path") {
		cfg.Store.Path = o.storePath
	}
	if flags.Changed("store-uri") {
		cfg.Store.URI = o.storeURI
	}
	if flags.Changed("database") {
		cfg.Store.Database = o.database
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// open loads the configuration and the layers to work on: the input files
// for the file stores, the configured database otherwise.
func (o *rootOptions) open(ctx context.Context, cmd *cobra.Command, inputs []string) (*cmdContext, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	c := &cmdContext{
		Config: cfg,
		Logger: logging.NewWithWriter(cfg.Log, o.errOut),
		Pools:  make(map[string]featurepool.Pool),
		Files:  make(map[string]string),
		Memory: make(map[string]*featurepool.MemoryPool),
	}

	switch cfg.Store.Kind {
	case config.StoreSQLite:
		err = c.openSQLite(ctx, o.layers)
	case config.StoreMongo:
		err = c.openMongo(ctx, o.layers)
	default:
		if len(inputs) == 0 && cfg.Store.Path != "" {
			inputs = []string{cfg.Store.Path}
		}
		err = c.openFiles(inputs)
	}
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *cmdContext) openSQLite(ctx context.Context, only []string) error {
	store, err := featurepool.OpenSQLite(c.Config.Store.Path, c.Logger)
	if err != nil {
		return err
	}
	c.SQLite = store
	if err := store.Initialize(); err != nil {
		return err
	}
	layers, err := store.Layers(ctx)
	if err != nil {
		return err
	}
	if layers, err = selectLayers(layers, only); err != nil {
		return err
	}
	for _, layer := range layers {
		c.Pools[layer] = store.Pool(layer)
	}
	return nil
}

func (c *cmdContext) openMongo(ctx context.Context, only []string) error {
	client, err := featurepool.ConnectMongo(ctx, c.Config.Store.URI)
	if err != nil {
		return err
	}
	c.Mongo = client
	layers, err := featurepool.MongoLayers(ctx, client, c.Config.Store.Database)
	if err != nil {
		return err
	}
	if layers, err = selectLayers(layers, only); err != nil {
		return err
	}
	for _, layer := range layers {
		c.Pools[layer] = featurepool.NewMongoPool(client, c.Config.Store.Database, layer, c.Logger)
	}
	return nil
}

// selectLayers keeps the requested layers, all of them when none are named.
func selectLayers(available, only []string) ([]string, error) {
	if len(only) == 0 {
		return available, nil
	}
	for _, layer := range only {
		if !slices.Contains(available, layer) {
			return nil, fmt.Errorf("%w: %s", featurepool.ErrUnknownLayer, layer)
		}
	}
	return only, nil
}

func (c *cmdContext) openFiles(inputs []string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input files given")
	}
	for _, path := range inputs {
		layer := layerName(path)
		if _, dup := c.Pools[layer]; dup {
			return fmt.Errorf("two inputs map to layer %q", layer)
		}
		pool, err := readLayerFile(layer, path)
		if err != nil {
			return err
		}
		c.Pools[layer] = pool
		c.Memory[layer] = pool
		c.Files[layer] = path
	}
	return nil
}

func readLayerFile(layer, path string) (*featurepool.MemoryPool, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return featurepool.ReadShapefile(layer, path)
	case ".geojson", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		pool, err := featurepool.ReadGeoJSON(layer, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return pool, nil
	}
	return nil, fmt.Errorf("unsupported input %s: expected .geojson, .json or .shp", path)
}

// layerName is the file name without directory and extension.
func layerName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func (c *cmdContext) newCheck() (*handlers.AngleCheck, error) {
	classes, err := c.Config.Classes()
	if err != nil {
		return nil, err
	}
	return handlers.NewAngleCheck(&handlers.CheckContext{
		Tolerance: c.Config.Tolerance,
		Pools:     c.Pools,
		Logger:    c.Logger,
	}, handlers.AngleCheckConfig{
		MinAngle:        c.Config.MinAngle,
		CompatibleKinds: classes,
		Workers:         c.Config.Workers,
	}), nil
}

// featureIDs lists every feature of every open layer.
func (c *cmdContext) featureIDs(ctx context.Context) (map[string][]int64, int64, error) {
	ids := make(map[string][]int64, len(c.Pools))
	var total int64
	for layer, pool := range c.Pools {
		layerIDs, err := pool.IDs(ctx)
		if err != nil {
			return nil, 0, err
		}
		ids[layer] = layerIDs
		total += int64(len(layerIDs))
	}
	return ids, total, nil
}
