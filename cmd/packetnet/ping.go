package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/marmos91/packetnet/internal/echo"
	"github.com/marmos91/packetnet/pkg/config"
	"github.com/marmos91/packetnet/pkg/network"
	"github.com/marmos91/packetnet/pkg/packet"
	"github.com/spf13/cobra"
)

func pingCmd() *cobra.Command {
	var (
		address  string
		count    int
		interval time.Duration
		timeout  time.Duration
		chat     string
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send pings to an echo server and report round-trip times",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Client.Address = address
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			return runPing(ctx, cmd, cfg, pingParams{count: count, interval: interval, timeout: timeout, chat: chat})
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "server address, overrides client.address")
	cmd.Flags().IntVarP(&count, "count", "n", 4, "number of pings")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "delay between pings")
	cmd.Flags().DurationVarP(&timeout, "timeout", "W", 5*time.Second, "time to wait for each pong")
	cmd.Flags().StringVar(&chat, "chat", "", "send a chat line before pinging")
	return cmd
}

type pingParams struct {
	count    int
	interval time.Duration
	timeout  time.Duration
	chat     string
}

func runPing(ctx context.Context, cmd *cobra.Command, cfg *config.Config, p pingParams) error {
	crypt, err := config.CreateCryptor(&cfg.Crypto)
	if err != nil {
		return err
	}
	dialer, err := config.CreateDialer(&cfg.Client)
	if err != nil {
		return err
	}

	pongs := make(chan *echo.Pong, 16)
	// Chat lines are printed from the connection's dispatch goroutine.
	out := &lockedWriter{w: cmd.OutOrStdout()}
	opts := network.Options{
		Registry: echo.Registry,
		Cryptor:  crypt,
		Dialer:   dialer,
		Handler: network.HandlerFunc(func(_ context.Context, _ *network.Connection, pkt packet.Readable) error {
			switch v := pkt.(type) {
			case *echo.Pong:
				pongs <- v
			case *echo.Chat:
				fmt.Fprintf(out, "chat from %s: %s\n", v.From, v.Text)
			}
			return nil
		}),
	}

	client, err := network.NewClient(cfg.Network, opts)
	if err != nil {
		return err
	}
	defer func() { _ = client.Shutdown() }()

	conn, err := client.Connect(ctx, cfg.Client.Address)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "connected to %s over %s\n", conn.RemoteAddr(), cfg.Client.Transport)

	if p.chat != "" {
		if err := conn.SendContext(ctx, &echo.Chat{Text: p.chat}); err != nil {
			return err
		}
	}

	received := 0
	var total time.Duration
	for seq := 0; seq < p.count; seq++ {
		if seq > 0 {
			select {
			case <-time.After(p.interval):
			case <-ctx.Done():
				return summary(out, seq, received, total)
			}
		}

		if err := conn.SendContext(ctx, &echo.Ping{Seq: uint32(seq), SentAt: time.Now().UnixNano()}); err != nil {
			return err
		}

		select {
		case pong := <-pongs:
			rtt := time.Since(time.Unix(0, pong.SentAt))
			total += rtt
			received++
			fmt.Fprintf(out, "pong seq=%d time=%v\n", pong.Seq, rtt.Round(time.Microsecond))
		case <-time.After(p.timeout):
			fmt.Fprintf(out, "timeout seq=%d\n", seq)
		case <-conn.Done():
			return fmt.Errorf("connection closed: %v", conn.Err())
		case <-ctx.Done():
			return summary(out, seq+1, received, total)
		}
	}

	return summary(out, p.count, received, total)
}

func summary(out io.Writer, sent, received int, total time.Duration) error {
	fmt.Fprintf(out, "%d sent, %d received", sent, received)
	if received > 0 {
		fmt.Fprintf(out, ", avg %v", (total / time.Duration(received)).Round(time.Microsecond))
	}
	fmt.Fprintln(out)
	if received < sent {
		return fmt.Errorf("%d pong(s) lost", sent-received)
	}
	return nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
