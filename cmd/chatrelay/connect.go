package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/chatrelay/chatclient"
)

func newConnectCmd() *cobra.Command {
	var addr, name string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a relay and chat from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConnect(cmd.Context(), chatclient.DefaultConfig(addr, name), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "relay address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

// runConnect relays lines from in to the server and prints what the server
// sends to out. It sends the exit keyword when in is exhausted or ctx is
// cancelled, and returns when the server closes the connection.
func runConnect(ctx context.Context, cfg chatclient.Config, in io.Reader, out io.Writer) error {
	client := chatclient.New(cfg)

	var outMu sync.Mutex
	client.OnLine(func(ev chatclient.LineEvent) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintln(out, ev.Line)
	})
	client.OnError(func(ev chatclient.ErrorEvent) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintln(out, "error:", ev.Error)
	})

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Address, err)
	}
	defer client.Close()

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if err := client.Send(scanner.Text()); err != nil {
				return
			}
		}
	}()

	select {
	case <-client.Done():
		return nil
	case <-ctx.Done():
	case <-inputDone:
	}

	return client.Exit()
}
