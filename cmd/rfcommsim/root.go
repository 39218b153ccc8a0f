package main

import (
	"fmt"
	"os"

	"github.com/arloliu/go-rfcomm/logger"
	"github.com/arloliu/go-rfcomm/rfcomm"
	"github.com/spf13/cobra"
)

var (
	logLevel     string
	protocolName string
)

var rootCmd = &cobra.Command{
	Use:   "rfcommsim",
	Short: "Run scripted scenarios against the RFCOMM simulator",
	Long: `rfcommsim drives the in-process RFCOMM simulator through scripted scenarios
and prints what each simulated device observed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)

		return nil
	},
}

// Execute runs the root command.
func Execute() {
	rootCmd.SetOut(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&protocolName, "protocol", "extended", "connection-info frame layout: legacy|extended")

	rootCmd.AddCommand(echoCmd, exhaustCmd)
}

// newSession creates a session and one device per address, all using the selected protocol.
func newSession(addrs ...string) (*rfcomm.Session, []*rfcomm.Device, error) {
	version, err := rfcomm.ParseProtocolVersion(protocolName)
	if err != nil {
		return nil, nil, err
	}

	session, err := rfcomm.NewSession(rfcomm.WithSessionLogger(logger.GetLogger()))
	if err != nil {
		return nil, nil, err
	}

	devs := make([]*rfcomm.Device, 0, len(addrs))
	for _, addr := range addrs {
		dev, err := session.AddDevice(rfcomm.Address(addr), rfcomm.WithProtocolVersion(version))
		if err != nil {
			session.Close()
			return nil, nil, err
		}
		devs = append(devs, dev)
	}

	return session, devs, nil
}

func printSnapshot(cmd *cobra.Command, session *rfcomm.Session) error {
	data, err := session.Snapshot().EncodeJSON()
	if err != nil {
		return err
	}
	cmd.Println(string(data))

	return nil
}
