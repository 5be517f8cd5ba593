package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/rowmark/rowmark/internal/api"
)

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream run summaries from a running serve",
		Long: `Connect to a running 'rowmark serve' and print every terminal run
summary as it happens. On a terminal, summaries render as single lines;
piped output switches to JSON Lines so 'rowmark tail | jq' works
without flags. --json forces JSON Lines either way.

The address comes from [serve] in the config; --url overrides it.`,
		RunE: runTail,
	}

	cmd.Flags().String("url", "", "stream URL (default ws://<serve.listen>/api/v1/stream)")

	return cmd
}

func runTail(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	streamURL, _ := cmd.Flags().GetString("url")
	if streamURL == "" {
		if resolvedCfg.Serve.Listen == "" {
			return fmt.Errorf("no stream address ([serve] listen is empty and --url not given)")
		}

		streamURL = "ws://" + resolvedCfg.Serve.Listen + "/api/v1/stream"
	}

	ctx := shutdownContext(cmd.Context(), logger)

	opts := &websocket.DialOptions{}
	if token := resolvedCfg.Serve.AuthToken; token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + token}}
	}

	conn, _, err := websocket.Dial(ctx, streamURL, opts)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", streamURL, err)
	}
	defer conn.CloseNow()

	statusf(flagQuiet, "Streaming run summaries from %s (Ctrl-C to stop)\n", streamURL)

	asJSON := flagJSON || !stdoutIsTTY()
	enc := json.NewEncoder(os.Stdout)

	for {
		var ev api.RunEvent

		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			// User interrupt: the dial context cancels and the read
			// unblocks. Clean exit, nothing to report.
			if ctx.Err() != nil {
				return nil
			}

			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				statusf(flagQuiet, "Server closed the stream\n")

				return nil
			}

			return fmt.Errorf("reading stream: %w", err)
		}

		if asJSON {
			if err := enc.Encode(ev); err != nil {
				return fmt.Errorf("encoding event: %w", err)
			}

			continue
		}

		fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), summaryLine(&ev))
	}
}
