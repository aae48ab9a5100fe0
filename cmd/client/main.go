package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/omochice/relay-chat/internal/client"
	"github.com/omochice/relay-chat/internal/logging"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		address      string
		port         int
		name         string
		interlocutor string
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:   "relay-client",
		Short: "Terminal client for the relay chat server",
		Long: `Terminal client for the relay chat server.

Type a line to send it to your interlocutor. Commands:
  /change <name>  chat with someone else
  /quit           leave`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.ValidateAuth(name, interlocutor); err != nil {
				return err
			}
			log, err := logging.New(logLevel, logging.FormatConsole, os.Stderr)
			if err != nil {
				return err
			}

			c := client.New(client.WithLogger(log))
			t := &terminal{client: c, out: cmd.OutOrStdout()}
			return t.run(cmd.Context(), cmd.InOrStdin(), address, port, name, interlocutor)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&address, "server", "s", "localhost", "Server host, or a ws:// URL to use WebSocket")
	flags.IntVarP(&port, "port", "p", client.DefaultPort, "Server port")
	flags.StringVarP(&name, "name", "n", "", "Your name")
	flags.StringVarP(&interlocutor, "to", "t", "", "Name of the person to chat with")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

// terminal renders client events as lines and maps input lines to commands.
type terminal struct {
	client *client.Client
	out    io.Writer
}

func (t *terminal) run(ctx context.Context, in io.Reader, address string, port int, name, interlocutor string) error {
	if err := t.client.Connect(ctx, address, port); err != nil {
		return err
	}
	defer t.client.Disconnect()

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.render()
	}()

	if err := t.client.SendAuthRequest(name, interlocutor); err != nil {
		return err
	}

	lines, scanErr := readLines(in)
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if quit := t.handleLine(strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// readLines scans in on its own goroutine so a closed connection does not
// wait for the next line of input.
func readLines(in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

// handleLine executes one input line and reports whether to quit.
func (t *terminal) handleLine(line string) bool {
	switch {
	case line == "":
		return false
	case line == "/quit" || line == "/exit":
		return true
	case strings.HasPrefix(line, "/change"):
		newName := strings.TrimSpace(strings.TrimPrefix(line, "/change"))
		if err := t.client.ChangeInterlocutor(newName); err != nil {
			t.printf("*** %s", err)
		}
	default:
		if err := t.client.SendMessage(line); err != nil {
			t.printf("*** %s", err)
			return false
		}
		t.printf("You: %s", line)
	}
	return false
}

// render prints events until the connection is gone.
func (t *terminal) render() {
	for ev := range t.client.Events() {
		switch ev.Kind {
		case client.EventConnected:
			t.printf("*** connected")
		case client.EventAuthenticationSuccess:
			if ev.InterlocutorConnected {
				t.printf("*** signed in as %s, %s is online", ev.ClientName, ev.Interlocutor)
			} else {
				t.printf("*** signed in as %s, waiting for %s", ev.ClientName, ev.Interlocutor)
			}
		case client.EventAuthenticationError:
			t.printf("*** authentication failed: %s", ev.Reason)
		case client.EventMessageReceived:
			t.printf("[%s] %s: %s", ev.Timestamp, ev.Sender, ev.Text)
		case client.EventInterlocutorConnected:
			t.printf("*** %s connected", ev.Interlocutor)
		case client.EventInterlocutorDisconnected:
			t.printf("*** interlocutor disconnected")
		case client.EventInterlocutorOffline:
			t.printf("*** interlocutor is offline")
		case client.EventInterlocutorChanged:
			state := "offline"
			if ev.InterlocutorConnected {
				state = "online"
			}
			t.printf("*** now chatting with %s (%s)", ev.Interlocutor, state)
		case client.EventInterlocutorChangeError:
			t.printf("*** error: %s", ev.Reason)
		case client.EventConnectionError:
			t.printf("*** connection error: %s", ev.Reason)
		case client.EventDisconnected:
			t.printf("*** disconnected")
			return
		}
	}
}

func (t *terminal) printf(format string, args ...any) {
	fmt.Fprintf(t.out, format+"\n", args...)
}
