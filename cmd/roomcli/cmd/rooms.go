package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yaswanth-hue/jamroom/internal/domain"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the live room directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRooms()
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}

func listRooms() error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(flagServer + "/api/rooms")
	if err != nil {
		return fmt.Errorf("fetch rooms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch rooms: unexpected status %s", resp.Status)
	}

	var rooms []domain.Room
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return fmt.Errorf("decode rooms: %w", err)
	}

	if len(rooms) == 0 {
		fmt.Fprintln(os.Stdout, "no active rooms")
		return nil
	}
	for _, r := range rooms {
		fmt.Fprintf(os.Stdout, "%s (%s): %d participant(s)\n", r.ID, r.Name, len(r.Participants))
	}
	return nil
}
