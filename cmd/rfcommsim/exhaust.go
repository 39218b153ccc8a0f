package main

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-rfcomm/rfcomm"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var exhaustDevice string

var exhaustCmd = &cobra.Command{
	Use:   "exhaust",
	Short: "Register services until the channel pool is exhausted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, devs, err := newSession(exhaustDevice)
		if err != nil {
			return err
		}
		defer session.Close()

		dev := devs[0]
		for i := 1; i <= rfcomm.MaxChannel+1; i++ {
			id := uuid.New()
			_, err := dev.Listen(id, fmt.Sprintf("service-%d", i))
			if errors.Is(err, rfcomm.ErrNoChannelAvailable) {
				cmd.Printf("registration %d failed: %v\n", i, err)
				break
			}
			if err != nil {
				return err
			}
		}

		for _, rec := range dev.Services() {
			cmd.Printf("channel %2d: %s (%s)\n", rec.Channel, rec.ServiceName, rec.UUID)
		}

		return nil
	},
}

func init() {
	exhaustCmd.Flags().StringVar(&exhaustDevice, "device", "00:11:22:33:44:01", "device address")
}
