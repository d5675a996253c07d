package fuse

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/internal/logger"
	"github.com/uberallfs/uberallfs/pkg/vfs"
)

// InBackgroundMode is the environment variable distinguishing the daemon
// process from the parent: when set, the process was re-executed by
// daemonize.Run and reports its mount outcome back over the status pipe.
const InBackgroundMode = "UBERALLFS_IN_BACKGROUND_MODE"

// MountConfig carries everything needed to serve an objectstore over fuse.
type MountConfig struct {
	// ObjectstoreDir is the store to serve.
	ObjectstoreDir string

	// Mountpoint is where the filesystem appears.
	Mountpoint string

	// AllowOther passes the allow_other mount option.
	AllowOther bool

	// InodeCacheDir switches the inode table to the disk-backed
	// implementation when non-empty.
	InodeCacheDir string
}

// Daemonize re-executes the current binary in the background with args,
// waiting for the child to signal its mount outcome. Grounds the one-shot
// init-complete callback: the child's SignalOutcome travels back over the
// pipe daemonize establishes; a child dying without signalling surfaces as
// an error here.
func Daemonize(args []string) error {
	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("os.Executable: %w", err)
	}

	env := []string{
		fmt.Sprintf("PATH=%s", os.Getenv("PATH")),
		fmt.Sprintf("%s=true", InBackgroundMode),
	}
	if home, err := os.UserHomeDir(); err == nil {
		env = append(env, fmt.Sprintf("HOME=%s", home))
	}

	if err := daemonize.Run(path, args, env, os.Stdout); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	return nil
}

// Daemonized reports whether this process is the re-executed child.
func Daemonized() bool {
	return os.Getenv(InBackgroundMode) != ""
}

// signalOutcome reports the mount outcome to the waiting parent, if any.
func signalOutcome(outcome error) {
	if !Daemonized() {
		return
	}
	if err := daemonize.SignalOutcome(outcome); err != nil {
		logger.Error("failed to signal mount outcome to parent", "error", err)
	}
}

// Serve mounts the objectstore at the configured mountpoint and blocks
// until the filesystem is unmounted or the context is cancelled. SIGINT
// triggers a clean unmount.
func Serve(ctx context.Context, cfg MountConfig) error {
	v, err := vfs.New(cfg.ObjectstoreDir)
	if err != nil {
		signalOutcome(err)
		return err
	}
	defer v.Close()

	var inodes InodeDB
	if cfg.InodeCacheDir != "" {
		inodes, err = NewBadgerInodeDB(cfg.InodeCacheDir)
		if err != nil {
			signalOutcome(err)
			return err
		}
	} else {
		inodes = NewMemoryInodeDB()
	}
	defer inodes.Close()

	fs, err := newFileSystem(v, inodes, vfs.UserID(os.Getuid()), uint32(os.Getgid()))
	if err != nil {
		signalOutcome(err)
		return err
	}

	mountCfg := &fuse.MountConfig{
		FSName:      "uberallfs",
		ReadOnly:    true,
		ErrorLogger: nil,
	}
	if cfg.AllowOther {
		mountCfg.Options = map[string]string{"allow_other": ""}
	}

	mfs, err := fuse.Mount(cfg.Mountpoint, fuseutil.NewFileSystemServer(fs), mountCfg)
	if err != nil {
		err = fmt.Errorf("mount: %w", err)
		signalOutcome(err)
		return err
	}

	logger.Info("mounted", "mountpoint", cfg.Mountpoint, "objectstore", cfg.ObjectstoreDir)
	signalOutcome(nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		if err := fuse.Unmount(cfg.Mountpoint); err != nil {
			logger.Warn("unmount failed, falling back to fusermount", "error", err)
			cmd := exec.Command("fusermount", "-u", cfg.Mountpoint)
			if err := cmd.Run(); err != nil {
				logger.Error("fusermount -u failed", "error", err)
			}
		}
	}()
	defer signal.Stop(sigCh)

	return mfs.Join(context.Background())
}
