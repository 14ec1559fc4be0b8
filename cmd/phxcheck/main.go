// Command phxcheck is a diagnostic ping: it joins a topic on a Phoenix
// Channels endpoint, pushes one event, and reports how long the round
// trip took. It is operational tooling for verifying a deployment is
// reachable, not an example client application.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eshe-huli/phoenixgo/phoenix"
	"github.com/eshe-huli/phoenixgo/transport/ws"
)

var (
	version   = "0.1.0"
	serverURL string
	topic     string
	event     string
	timeout   time.Duration
	token     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "phxcheck",
		Short:   "phxcheck — Phoenix Channels reachability probe",
		Long:    `phxcheck dials a Phoenix Channels endpoint, joins a topic, pushes one event, and reports round-trip latency or the reason it failed.`,
		Version: version,
		RunE:    runCheck,
	}

	rootCmd.Flags().StringVar(&serverURL, "server", "ws://localhost:4000/socket", "Phoenix endpoint URL")
	rootCmd.Flags().StringVar(&topic, "topic", "phoenix:ping", "topic to join")
	rootCmd.Flags().StringVar(&event, "event", "ping", "event to push once joined")
	rootCmd.Flags().StringVar(&token, "token", "", "opaque token appended as a query param")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "join/push timeout")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	var opts []phoenix.Option
	opts = append(opts, phoenix.WithTimeout(timeout))
	if token != "" {
		opts = append(opts, phoenix.WithStaticParams(map[string]string{"token": token}))
	}

	factory := ws.New()
	sock := phoenix.New(serverURL, factory, opts...)

	connectErrCh := make(chan error, 1)
	sock.OnSocketError(func(err error) {
		select {
		case connectErrCh <- err:
		default:
		}
	})

	if err := sock.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	ch := sock.Channel(topic, nil)
	joinResult := make(chan error, 1)
	joinPush, err := ch.Join(timeout)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	joinPush.
		Receive("ok", func(map[string]interface{}) { joinResult <- nil }).
		Receive("error", func(payload map[string]interface{}) {
			joinResult <- fmt.Errorf("join rejected: %v", payload)
		}).
		OnTimeout(func(string, map[string]interface{}) {
			joinResult <- fmt.Errorf("join timed out after %s", timeout)
		})

	select {
	case err := <-joinResult:
		if err != nil {
			return err
		}
	case err := <-connectErrCh:
		return fmt.Errorf("connect: %w", err)
	case <-time.After(timeout + time.Second):
		return fmt.Errorf("join never completed")
	}

	start := time.Now()
	pingResult := make(chan error, 1)
	p, err := ch.Push(event, map[string]interface{}{"sent_at": start.UnixNano()}, timeout)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	p.Receive("ok", func(map[string]interface{}) { pingResult <- nil })
	p.OnTimeout(func(string, map[string]interface{}) { pingResult <- fmt.Errorf("push timed out after %s", timeout) })

	select {
	case err := <-pingResult:
		if err != nil {
			return err
		}
	case <-time.After(timeout + time.Second):
		return fmt.Errorf("push never completed")
	}

	latency := time.Since(start)
	fmt.Printf("✓ %s joined, %s acked in %sµs\n", topic, event, humanize.Comma(latency.Microseconds()))

	_ = sock.Disconnect(1000, "phxcheck done", nil)
	return nil
}
