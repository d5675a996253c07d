package commands

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/internal/cli/output"
	"github.com/uberallfs/uberallfs/internal/logger"
	"github.com/uberallfs/uberallfs/pkg/identifier"
	"github.com/uberallfs/uberallfs/pkg/metrics"
	storemetrics "github.com/uberallfs/uberallfs/pkg/metrics/prometheus"
	"github.com/uberallfs/uberallfs/pkg/objectstore"
)

var objectstoreCmd = &cobra.Command{
	Use:     "objectstore",
	Aliases: []string{"os"},
	Short:   "Objectstore management",
}

var (
	initForce  bool
	initNoRoot bool
)

var initCmd = &cobra.Command{
	Use:   "init DIRECTORY",
	Short: "Initialize a new objectstore",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return objectstore.Init(storeDir(args), initForce, initNoRoot)
	},
}

var (
	mkdirParents bool
	mkdirAcl     string
	mkdirSource  string
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir DIRECTORY PATH",
	Short: "Create a directory object at a path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(storeDir(args), objectstore.WaitForLock)
		if err != nil {
			return err
		}
		defer store.Close()

		opts := objectstore.MkdirOptions{
			Parents: mkdirParents,
			Source:  mkdirSource,
		}
		if mkdirAcl != "" {
			opts.Acl = &objectstore.Acl{}
		}
		id, err := objectstore.Mkdir(store, args[1], opts)
		if err != nil {
			return err
		}
		logger.Debug("created", "path", args[1], "id", id.String())
		return nil
	},
}

var showFormat string

var showCmd = &cobra.Command{
	Use:   "show DIRECTORY [PATH]",
	Short: "Resolve a path and print its identifier",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(storeDir(args), objectstore.WaitForLock)
		if err != nil {
			return err
		}
		defer store.Close()

		path := "/"
		if len(args) > 1 {
			path = args[1]
		}

		id, rest, err := store.PathLookup(path, nil)
		if err != nil {
			return err
		}
		if rest != "" {
			return objectstore.NewObjectNotFoundError(rest)
		}

		format, err := output.ParseFormat(showFormat)
		if err != nil {
			return err
		}
		table := output.NewTable("Path", "Identifier", "Kind")
		table.AddRow(path, id.String(), id.Kind().String())
		return output.Print(cmd.OutOrStdout(), format, table, map[string]string{
			"path":       path,
			"identifier": id.String(),
			"kind":       id.Kind().String(),
		})
	},
}

var gcDryRun bool

var gcCmd = &cobra.Command{
	Use:   "gc DIRECTORY",
	Short: "Collect unreachable objects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(storeDir(args), objectstore.WaitForLock)
		if err != nil {
			return err
		}
		defer store.Close()

		root, err := store.RootID()
		if err != nil {
			return err
		}
		logger.Info("gc root", "id", root.String())

		stats, err := store.GC([]identifier.Identifier{root}, objectstore.GCOptions{
			DryRun: gcDryRun,
			Report: cmd.OutOrStdout(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reachable: %d unreachable: %d deleted: %d expired: %d\n",
			stats.Reachable, stats.Unreachable, stats.Deleted, stats.Expired)
		return nil
	},
}

var lockWait bool

var lockCmd = &cobra.Command{
	Use:   "lock DIRECTORY",
	Short: "Hold the objectstore lock until interrupted (diagnostic)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		method := objectstore.TryLock
		if lockWait {
			method = objectstore.WaitForLock
		}
		store, err := openStore(storeDir(args), method)
		if err != nil {
			return err
		}
		defer store.Close()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
		<-sigCh
		return nil
	},
}

// storeDir resolves the objectstore directory: the positional argument, or
// the configured default when given ".".
func storeDir(args []string) string {
	if args[0] == "." && cfg.Store.Directory != "" {
		return cfg.Store.Directory
	}
	return args[0]
}

// openStore opens the store with metrics wired in when enabled; the
// metrics endpoint starts alongside.
func openStore(dir string, method objectstore.LockingMethod) (*objectstore.ObjectStore, error) {
	var opts []objectstore.Option
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		if sink := storemetrics.NewStoreMetrics(); sink != nil {
			opts = append(opts, objectstore.WithMetrics(sink))
		}
		server := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server", "error", err)
			}
		}()
	}
	return objectstore.Open(dir, method, opts...)
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "force re-initialization of an existing objectstore")
	initCmd.Flags().BoolVar(&initNoRoot, "no-root", false, "do not create a root directory object")

	mkdirCmd.Flags().BoolVarP(&mkdirParents, "parents", "p", false, "create missing parent directories")
	mkdirCmd.Flags().StringVar(&mkdirAcl, "acl", "", "create a PublicAcl object with the given acl")
	mkdirCmd.Flags().StringVar(&mkdirSource, "source", "", "link an existing directory object instead of creating one")

	showCmd.Flags().StringVarP(&showFormat, "output", "o", "table", "output format (table, json, yaml)")

	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "report what would be done without changing anything")

	lockCmd.Flags().BoolVar(&lockWait, "wait", false, "wait for the lock instead of failing on contention")

	objectstoreCmd.AddCommand(initCmd)
	objectstoreCmd.AddCommand(mkdirCmd)
	objectstoreCmd.AddCommand(showCmd)
	objectstoreCmd.AddCommand(gcCmd)
	objectstoreCmd.AddCommand(lockCmd)
}
