package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/wabot/internal/lifecycle"
	"github.com/neboloop/wabot/internal/session"
	"github.com/neboloop/wabot/internal/svc"
)

// PairCmd links the device interactively without starting the web interface.
func PairCmd() *cobra.Command {
	var (
		method  string
		phone   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Link this device to a WhatsApp account",
		Example: `  wabot pair
  wabot pair --method code --phone +15551234567`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, ok := session.ParsePairingMode(method)
			if !ok {
				return fmt.Errorf("unknown pairing method %q (want qr or code)", method)
			}
			if mode == session.PairingCode && phone == "" {
				return fmt.Errorf("--phone is required with --method code")
			}
			return runPair(cmd, mode, phone, timeout)
		},
	}
	cmd.Flags().StringVar(&method, "method", "qr", "pairing method: qr or code")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number with country code, e.g. +15551234567")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "give up after this long")
	return cmd
}

func runPair(cmd *cobra.Command, mode session.PairingMode, phone string, timeout time.Duration) error {
	lockFile, err := acquireLock(paths.Lock)
	if err != nil {
		return err
	}
	defer releaseLock(lockFile)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := cfg
	c.Session.PairingMode = string(mode)
	c.Session.PhoneNumber = phone

	svcCtx, err := svc.NewServiceContext(ctx, c, paths, svc.WithVersion(Version))
	if err != nil {
		return err
	}
	defer svcCtx.Close()

	out := cmd.OutOrStdout()
	opened := make(chan struct{}, 1)
	svcCtx.Bus.On(lifecycle.EventQRCode, func(_ lifecycle.Event, data any) {
		if mode == session.PairingQR {
			fmt.Fprintf(out, "Scan this QR payload from WhatsApp > Linked devices:\n%v\n\n", data)
		}
	})
	svcCtx.Bus.OnPairingCode(func(pc lifecycle.PairingCode) {
		fmt.Fprintf(out, "Enter code %s on the phone for %s (WhatsApp > Linked devices > Link with phone number).\n", pc.Code, pc.ForNumber)
	})
	svcCtx.Bus.On(lifecycle.EventError, func(_ lifecycle.Event, data any) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", data)
	})
	svcCtx.Bus.On(lifecycle.EventSessionOpened, func(lifecycle.Event, any) {
		select {
		case opened <- struct{}{}:
		default:
		}
	})

	if svcCtx.Client().IsRegistered() {
		fmt.Fprintln(out, "Device is already linked. Checking the connection...")
	}
	if err := svcCtx.Start(ctx); err != nil {
		return err
	}

	select {
	case <-opened:
		fmt.Fprintln(out, "Device linked and connected.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pairing not completed: %w", ctx.Err())
	}
}
