package main

import (
	"bufio"
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ephemeralchat/roomlink/internal/config"
	"github.com/ephemeralchat/roomlink/internal/logging"
	"github.com/ephemeralchat/roomlink/pkg/client"
	"github.com/ephemeralchat/roomlink/pkg/directory"
	"github.com/ephemeralchat/roomlink/pkg/protocol"
	"github.com/ephemeralchat/roomlink/pkg/session"
	"github.com/ephemeralchat/roomlink/pkg/upload"
)

func joinCmd() *cobra.Command {
	var (
		configPath string
		serverURL  string
		username   string
		statePath  string
	)

	cmd := &cobra.Command{
		Use:   "join <room-id>",
		Short: "Join a chat room",
		Long: `Join a chat room and talk from the terminal.

Lines you type are sent as chat. Commands:

  /file <path>   share a file with the room
  /who           print the current participants
  /close         close the room (host only)
  /leave         leave the room and exit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if username != "" {
				cfg.Username = username
			}
			if statePath != "" {
				cfg.StatePath = statePath
			}
			if cfg.Username == "" {
				return fmt.Errorf("a username is required (--username or ROOMLINK_USERNAME)")
			}
			return runJoin(cmd.Context(), cfg, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path")
	cmd.Flags().StringVar(&serverURL, "server", "", "Chat server origin URL")
	cmd.Flags().StringVarP(&username, "username", "u", "", "Display name")
	cmd.Flags().StringVar(&statePath, "state", "", "Continuity state file (rejoin after restart)")

	return cmd
}

func runJoin(ctx context.Context, cfg *config.Config, roomID string) error {
	logger := logging.New(cfg.Log, os.Stderr)

	var store session.Store
	if cfg.StatePath != "" {
		store = session.NewFileStore(cfg.StatePath)
	} else {
		store = session.NewMemoryStore()
	}

	dir := directory.New(cfg.ServerURL, directory.WithLogger(logger))
	info, err := dir.Room(ctx, roomID)
	if err != nil {
		return fmt.Errorf("look up room: %w", err)
	}
	fmt.Printf("Joining %q (host: %s)\n", info.RoomName, info.HostUsername)

	endpoint, err := client.Endpoint(cfg.ServerURL)
	if err != nil {
		return err
	}

	var metrics *client.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = client.NewMetrics(reg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn().Err(err).Str("module", "cli").Msg("metrics listener stopped")
			}
		}()
	}

	done := make(chan struct{})
	sess := session.New(roomID, cfg.Username, store)
	c := client.New(endpoint, sess, store,
		client.WithLogger(logger),
		client.WithMetrics(metrics),
		client.WithEvents(client.Events{
			TranscriptAppended: printMessage,
			RosterReplaced: func(roster []string) {
				fmt.Printf("* participants: %s\n", strings.Join(roster, ", "))
			},
			StatusChanged: func(st client.Status) {
				if st.Reconnecting {
					fmt.Printf("* connection lost, retrying (attempt %d)...\n", st.Attempt+1)
				}
			},
			Notice: func(n client.Notice) {
				fmt.Printf("! %s\n", n.Message)
			},
			LeaveRoom: func() {
				close(done)
			},
		}),
	)

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	// SIGINT leaves cleanly; SIGCONT after a shell suspend counts as a
	// return to the foreground and restarts reconnection immediately.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGCONT)
	defer signal.Stop(signals)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	uploader := upload.NewUploader(c,
		upload.WithLogger(logger),
		upload.WithProgress(func(p *upload.Progress) {
			if p != nil {
				fmt.Printf("\ruploading %s: %d%%", p.FileName, p.Percent)
				if p.Percent >= 100 {
					fmt.Println()
				}
			}
		}),
	)

	for {
		select {
		case <-done:
			c.Close("room closed")
			fmt.Println("Room closed by the host.")
			return nil
		case sig := <-signals:
			if sig == syscall.SIGCONT {
				c.NotifyForeground()
				continue
			}
			c.Leave()
			fmt.Println("\nLeft the room.")
			return nil
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/leave" {
				c.Leave()
				fmt.Println("Left the room.")
				return nil
			}
			if err := handleLine(ctx, c, uploader, line); err != nil {
				fmt.Printf("! %s\n", err)
			}
		}
	}
}

func handleLine(ctx context.Context, c *client.Client, uploader *upload.Uploader, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line == "/who":
		fmt.Printf("* participants: %s\n", strings.Join(c.Roster(), ", "))
		return nil
	case line == "/close":
		return c.CloseRoom()
	case strings.HasPrefix(line, "/file "):
		return sendFile(ctx, c, uploader, strings.TrimSpace(strings.TrimPrefix(line, "/file ")))
	case strings.HasPrefix(line, "/"):
		return fmt.Errorf("unknown command %q", line)
	default:
		return c.SendChat(line)
	}
}

func sendFile(ctx context.Context, c *client.Client, uploader *upload.Uploader, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return uploader.Upload(ctx, upload.File{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        stat.Size(),
		Content:     f,
	}, c.Session())
}

func printMessage(m protocol.Message) {
	stamp := ""
	if m.Timestamp != "" {
		stamp = "[" + m.Timestamp + "] "
	}
	switch m.Type {
	case protocol.TypeChat:
		fmt.Printf("%s%s: %s\n", stamp, m.Sender, m.Content)
	case protocol.TypeJoin, protocol.TypeLeave, protocol.TypeRoomClosed:
		fmt.Printf("%s* %s\n", stamp, m.Content)
	case protocol.TypeAudio:
		fmt.Printf("%s%s sent a voice message\n", stamp, m.Sender)
	case protocol.TypeImage, protocol.TypeVideo, protocol.TypeFile:
		fmt.Printf("%s%s shared %s (%s)\n", stamp, m.Sender, m.FileName, m.FileType)
	}
}
