package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yaswanth-hue/jamroom/internal/domain"
	"github.com/yaswanth-hue/jamroom/internal/mesh"
)

var flagMuted bool

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join an audio room and stay until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func init() {
	joinCmd.Flags().BoolVar(&flagMuted, "muted", false, "join with the microphone muted")
	rootCmd.AddCommand(joinCmd)
}

// signalURL turns the server base URL into the ws signaling endpoint.
func signalURL(base string) string {
	u := strings.TrimSuffix(base, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/api/ws/signal"
}

func joinRoom(room string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	roomID := string(domain.Slug(room))
	ctl := mesh.NewController(mesh.Options{ServerURL: signalURL(flagServer)})

	if err := ctl.Join(ctx, roomID); err != nil {
		return fmt.Errorf("join %q: %w", roomID, err)
	}
	defer ctl.Leave()

	if flagMuted {
		if err := ctl.SetMuted(ctx, true); err != nil {
			log.Warn().Err(err).Msg("mute on join")
		}
	}

	fmt.Fprintf(os.Stdout, "joined room %q as %s, ctrl-c to leave\n", roomID, ctl.SelfID())

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stdout, "leaving")
			return nil
		case <-ticker.C:
			for _, p := range ctl.Roster() {
				state := ""
				if p.IsMuted {
					state = " (muted)"
				}
				fmt.Fprintf(os.Stdout, "  %s %s%s\n", p.ID, p.Name, state)
			}
		}
	}
}
