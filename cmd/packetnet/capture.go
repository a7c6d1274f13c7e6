package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/packetnet/pkg/capture"
	"github.com/marmos91/packetnet/pkg/config"
	"github.com/spf13/cobra"
)

func captureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Inspect captured traffic",
	}
	cmd.AddCommand(captureDumpCmd())
	return cmd
}

func captureDumpCmd() *cobra.Command {
	var (
		path    string
		conn    string
		limit   int
		asJSON  bool
		preview int
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print captured records",
		Long: `Print the records of the configured capture store in capture order.

--path reads a badger store directly without loading the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCaptureStore(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			return dumpRecords(cmd.Context(), cmd.OutOrStdout(), store, dumpFilter{
				conn:    conn,
				limit:   limit,
				json:    asJSON,
				preview: preview,
			})
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "badger store directory")
	cmd.Flags().StringVar(&conn, "conn", "", "only records of this connection id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after n records (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "one JSON object per line")
	cmd.Flags().IntVar(&preview, "preview", 16, "payload bytes shown in hex")
	return cmd
}

func openCaptureStore(ctx context.Context, path string) (capture.Store, error) {
	if path != "" {
		return capture.NewBadgerStore(capture.BadgerStoreConfig{Path: path})
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Capture.Type == "memory" {
		return nil, fmt.Errorf("the memory capture store does not outlive the server; use badger or s3")
	}
	return config.CreateCaptureStore(ctx, &cfg.Capture)
}

type dumpFilter struct {
	conn    string
	limit   int
	json    bool
	preview int
}

// errDumpLimit stops iteration once the limit is reached.
var errDumpLimit = errors.New("limit reached")

type jsonRecord struct {
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	Conn      string    `json:"conn"`
	Direction string    `json:"direction"`
	Size      int       `json:"size"`
	Payload   string    `json:"payload"`
}

func dumpRecords(ctx context.Context, w io.Writer, store capture.Store, f dumpFilter) error {
	enc := json.NewEncoder(w)
	n := 0

	err := store.Iterate(ctx, func(r capture.Record) error {
		if f.conn != "" && r.ConnID != f.conn {
			return nil
		}

		if f.json {
			if err := enc.Encode(jsonRecord{
				Seq:       r.Seq,
				Time:      r.Time().UTC(),
				Conn:      r.ConnID,
				Direction: r.Direction(),
				Size:      len(r.Payload),
				Payload:   hex.EncodeToString(r.Payload),
			}); err != nil {
				return err
			}
		} else {
			shown := r.Payload
			suffix := ""
			if f.preview >= 0 && len(shown) > f.preview {
				shown, suffix = shown[:f.preview], "..."
			}
			fmt.Fprintf(w, "%s %6d %-8s %s %5dB %s%s\n",
				r.Time().UTC().Format(time.RFC3339Nano), r.Seq, r.Direction(), r.ConnID,
				len(r.Payload), hex.EncodeToString(shown), suffix)
		}

		n++
		if f.limit > 0 && n >= f.limit {
			return errDumpLimit
		}
		return nil
	})
	if errors.Is(err, errDumpLimit) {
		return nil
	}
	return err
}
