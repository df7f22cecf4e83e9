package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mpontes/rdcred/pkg/rdp"
)

// Connection option flags
var (
	connectNoClipboard bool
	connectMountHome   bool
	connectPrinters    bool
	connectMultiMon    bool
	connectSound       string
	connectResolution  string
	connectQuality     string
)

func init() {
	connectCmd.Flags().BoolVar(&connectNoClipboard, "no-clipboard", false, "Disable clipboard sharing")
	connectCmd.Flags().BoolVar(&connectMountHome, "mount-home", false, "Share the home directory as a drive")
	connectCmd.Flags().BoolVar(&connectPrinters, "printers", false, "Redirect local printers")
	connectCmd.Flags().BoolVar(&connectMultiMon, "multimon", false, "Span the session across all monitors")
	connectCmd.Flags().StringVar(&connectSound, "sound", "local", "Audio mode: local, remote, both, off")
	connectCmd.Flags().StringVar(&connectResolution, "resolution", "", "Fixed resolution (e.g. 1920x1080; default dynamic)")
	connectCmd.Flags().StringVar(&connectQuality, "quality", "broadband", "Connection quality: modem, broadband, lan")
}

// connectCmd decrypts a server's credential and launches the RDP
// client.
var connectCmd = &cobra.Command{
	Use:   "connect [name]",
	Short: "Connect to a server with its stored credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := reg.Get(args[0])
		if err != nil {
			return err
		}

		blob, err := reg.Credential(srv.Name)
		if err != nil {
			return err
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}
		password, err := keys.DecryptPassword(blob, srv.Name)
		if err != nil {
			return err
		}

		opts := rdp.DefaultOptions()
		opts.Clipboard = !connectNoClipboard
		opts.MountHome = connectMountHome
		opts.Printers = connectPrinters
		opts.MultiMonitor = connectMultiMon
		opts.Sound = rdp.SoundMode(connectSound)
		opts.Resolution = connectResolution
		opts.Quality = rdp.Quality(connectQuality)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		launcher := rdp.NewLauncher(cfg.RDPClient, cfg.RDPArgs)
		return launcher.Connect(ctx, rdp.Session{
			Host:     srv.Host,
			Port:     srv.Port,
			Username: srv.Username,
			Password: password,
		}, opts)
	},
}
