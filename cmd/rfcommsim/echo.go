package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/arloliu/go-rfcomm/rfcomm"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	echoServer    string
	echoClient    string
	echoUUID      string
	echoPayload   string
	echoEncrypted bool
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Connect two devices and echo a payload",
	Long: `echo registers a service on the server device, connects the client to it,
sends the payload, echoes it back and shuts both directions down.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(echoUUID)
		if err != nil {
			return fmt.Errorf("invalid service uuid: %w", err)
		}

		session, devs, err := newSession(echoServer, echoClient)
		if err != nil {
			return err
		}
		defer session.Close()

		server, client := devs[0], devs[1]

		listen, err := server.Listen(id, "echo")
		if err != nil {
			return err
		}
		channel, err := readChannel(server, listen)
		if err != nil {
			return err
		}
		cmd.Printf("%s listening on channel %d\n", server.Address(), channel)

		serverErr := make(chan error, 1)
		go func() {
			serverErr <- serveEcho(cmd, server, listen)
		}()

		conn, err := client.Connect(server.Address(), id)
		if err != nil {
			return err
		}

		info, err := client.ReadConnectionInfo("", conn)
		if err != nil {
			return err
		}
		cmd.Printf("%s connection info: %+v\n", client.Address(), info)

		if err := client.Write(server.Address(), conn, []byte(echoPayload)); err != nil {
			return err
		}
		if err := client.ShutdownOutput(server.Address(), conn); err != nil {
			return err
		}

		echoed, err := readAll(client, server.Address(), conn)
		if err != nil {
			return err
		}
		cmd.Printf("%s received %q\n", client.Address(), echoed)

		if err := <-serverErr; err != nil {
			return err
		}
		if err := printSnapshot(cmd, session); err != nil {
			return err
		}

		return client.Close(conn)
	},
}

func init() {
	echoCmd.Flags().StringVar(&echoServer, "server", "00:11:22:33:44:01", "server device address")
	echoCmd.Flags().StringVar(&echoClient, "client", "00:11:22:33:44:02", "client device address")
	echoCmd.Flags().StringVar(&echoUUID, "uuid", "00001101-0000-1000-8000-00805f9b34fb", "service uuid")
	echoCmd.Flags().StringVar(&echoPayload, "payload", "hello", "payload sent by the client")
	echoCmd.Flags().BoolVar(&echoEncrypted, "encrypted", false, "mark the link encrypted")
}

func serveEcho(cmd *cobra.Command, server *rfcomm.Device, listen rfcomm.Handle) error {
	defer server.Close(listen)

	conn, err := server.Accept(listen)
	if err != nil {
		return err
	}
	pending, ok := server.PendingConnection(conn)
	if !ok {
		return rfcomm.ErrNoPendingConnection
	}
	remote := pending.RemoteAddress

	if err := server.CompleteAccept(conn, echoEncrypted); err != nil {
		return err
	}

	info, err := server.ReadConnectionInfo("", conn)
	if err != nil {
		return err
	}
	cmd.Printf("%s connection info: %+v\n", server.Address(), info)

	data, err := readAll(server, remote, conn)
	if err != nil {
		return err
	}
	if err := server.Write(remote, conn, data); err != nil {
		return err
	}

	return server.ShutdownOutput(remote, conn)
}

func readChannel(dev *rfcomm.Device, listen rfcomm.Handle) (int, error) {
	buf := make([]byte, 4)
	for i := range buf {
		b, err := dev.ReadByte("", listen)
		if err != nil {
			return 0, err
		}
		buf[i] = b
	}

	return int(binary.LittleEndian.Uint32(buf)), nil
}

// readAll reads from h until end-of-stream.
func readAll(dev *rfcomm.Device, remote rfcomm.Address, h rfcomm.Handle) ([]byte, error) {
	var data []byte
	buf := make([]byte, 64)
	for {
		n, err := dev.Read(remote, h, buf)
		data = append(data, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return data, nil
		}
		if err != nil {
			return data, err
		}
	}
}
