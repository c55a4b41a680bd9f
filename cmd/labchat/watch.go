package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"labchat/internal/chat"
	"labchat/internal/server"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow a section live; type /switch <section> or /quit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			conn, err := dial(ctx, chat.Section(cfg.Section))
			if err != nil {
				return err
			}
			defer conn.Close()

			go readCommands(os.Stdin, conn, cancel)

			out := cmd.OutOrStdout()
			return readEvents(ctx, conn, func(ev server.Event) bool {
				switch ev.Type {
				case server.EventSnapshot:
					renderSnapshot(out, ev.Section, ev.Messages)
				case server.EventError:
					fmt.Fprintln(cmd.ErrOrStderr(), "error:", ev.Error)
				}
				return true
			})
		},
	}
}

func dial(ctx context.Context, section chat.Section) (*websocket.Conn, error) {
	u, err := url.Parse(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"section": {string(section)}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", u, err)
	}
	return conn, nil
}

// readEvents decodes server events until handle returns false, the context
// ends or the connection drops. One frame may carry several events, one per
// line.
func readEvents(ctx context.Context, conn *websocket.Conn, handle func(server.Event) bool) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("reading events: %w", err)
		}
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var ev server.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				log.Warn("decoding event", "error", err)
				continue
			}
			if !handle(ev) {
				return nil
			}
		}
	}
}

func readCommands(in io.Reader, conn *websocket.Conn, quit context.CancelFunc) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "/quit", "/q":
			quit()
			return
		case "/switch", "/s":
			if len(fields) < 2 {
				fmt.Fprintln(os.Stderr, "usage: /switch <section>")
				continue
			}
			section, err := chat.ParseSection(fields[1])
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			if err := conn.WriteJSON(server.Event{Type: server.EventSwitch, Section: section}); err != nil {
				log.Error("switching section", "error", err)
				quit()
				return
			}
		default:
			fmt.Fprintln(os.Stderr, "commands: /switch <section>, /quit (use `labchat send` to post)")
		}
	}
}
