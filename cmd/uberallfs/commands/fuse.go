package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/uberallfs/uberallfs/internal/logger"
	"github.com/uberallfs/uberallfs/pkg/fuse"
	"github.com/uberallfs/uberallfs/pkg/metrics"
)

var fuseCmd = &cobra.Command{
	Use:   "fuse",
	Short: "Filesystem frontend",
}

var (
	mountObjectstore string
	mountForeground  bool
	mountAllowOther  bool
	mountPidFile     string
	mountInodeCache  string
)

var mountCmd = &cobra.Command{
	Use:   "mount MOUNTPOINT",
	Short: "Mount an objectstore as a filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mountpoint := args[0]

		storeDir := mountObjectstore
		if storeDir == "" {
			storeDir = cfg.Store.Directory
		}
		if storeDir == "" {
			// like the original: a bare mountpoint doubles as the store
			storeDir = mountpoint
		}

		foreground := mountForeground || cfg.Fuse.Foreground

		// The parent re-executes itself in the background and waits for the
		// child's mount outcome over the daemonize status channel.
		if !foreground && !fuse.Daemonized() {
			if err := fuse.Daemonize(os.Args[1:]); err != nil {
				return err
			}
			logger.Info("file system has been successfully mounted", "mountpoint", mountpoint)
			return nil
		}

		if pidFile := pidFilePath(); pidFile != "" {
			if err := os.WriteFile(pidFile, fmt.Appendf(nil, "%d\n", os.Getpid()), 0o644); err != nil {
				return err
			}
			defer os.Remove(pidFile)
		}

		if cfg.Metrics.Enabled {
			metrics.InitRegistry()
			server := metrics.NewServer(cfg.Metrics.Port)
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Warn("metrics server", "error", err)
				}
			}()
		}

		inodeCache := mountInodeCache
		if inodeCache == "" {
			inodeCache = cfg.Fuse.InodeCacheDir
		}

		return fuse.Serve(context.Background(), fuse.MountConfig{
			ObjectstoreDir: storeDir,
			Mountpoint:     mountpoint,
			AllowOther:     mountAllowOther || cfg.Fuse.AllowOther,
			InodeCacheDir:  inodeCache,
		})
	},
}

func pidFilePath() string {
	if mountPidFile != "" {
		return mountPidFile
	}
	return cfg.Fuse.PidFile
}

func init() {
	mountCmd.Flags().StringVar(&mountObjectstore, "objectstore", "", "objectstore directory (defaults to store.directory from the config, else the mountpoint)")
	mountCmd.Flags().BoolVar(&mountForeground, "foreground", false, "stay attached to the terminal instead of daemonizing")
	mountCmd.Flags().BoolVar(&mountAllowOther, "allow-other", false, "allow other users to access the mount")
	mountCmd.Flags().StringVar(&mountPidFile, "pidfile", "", "write the daemon pid to this file")
	mountCmd.Flags().StringVar(&mountInodeCache, "inode-cache-dir", "", "back the inode table with an on-disk database in this directory")

	fuseCmd.AddCommand(mountCmd)
}
