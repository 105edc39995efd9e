package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bookcross/cli/internal/config"
	"github.com/bookcross/cli/internal/version"
	"github.com/bookcross/cli/pkg/logger"
	"github.com/bookcross/cli/sdk"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}

	if cfg.Debug {
		log.Printf("Config: ServerURL=%s, SocketURL=%s%s", cfg.ServerURL, cfg.SocketURL, cfg.SocketPath)
	}

	if len(args) == 0 {
		printUsage()
		return nil
	}

	switch args[0] {
	case "login":
		return loginCommand(cfg)
	case "logout":
		return logoutCommand(cfg)
	case "watch":
		return watchCommand(cfg)
	case "chat":
		return chatCommand(cfg, args[1:])
	case "help", "--help", "-h":
		printUsage()
		return nil
	case "version", "--version", "-v":
		fmt.Printf("bookcross-cli %s\n", version.RichVersion())
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func parseFlags(cfg *config.Config, argv []string) ([]string, error) {
	fs := flag.NewFlagSet("bookcross", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "base URL of the bookcross API")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable verbose logging")
	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	if cfg.Debug && cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}
	return fs.Args(), nil
}

func newClient(cfg *config.Config) (*sdk.Client, error) {
	client := sdk.NewClient(cfg)
	if err := client.Init(); err != nil {
		return nil, err
	}
	return client, nil
}

func loginCommand(cfg *config.Config) error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Email: ")
	email, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	fmt.Print("Password: ")
	password, err := reader.ReadString('\n')
	if err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	user, err := client.Login(context.Background(), strings.TrimSpace(email), strings.TrimSpace(password))
	if err != nil {
		return err
	}
	fmt.Printf("Logged in as %s (id %d)\n", user.Username, user.ID)
	return nil
}

func logoutCommand(cfg *config.Config) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Shutdown()
	if err := client.Logout(); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

// printListener logs realtime activity for the watch command.
type printListener struct {
	client *sdk.Client
}

func (p *printListener) OnConnected() {
	fmt.Println("channel connected")
}

func (p *printListener) OnDisconnected(reason string) {
	fmt.Printf("channel disconnected: %s\n", reason)
}

func (p *printListener) OnNotificationsChanged() {
	for _, n := range p.client.Notifications().List() {
		if !n.Read {
			fmt.Printf("[%s] %s: %s\n", n.Kind, n.Title, n.Message)
		}
	}
}

func (p *printListener) OnChatChanged() {
	if chatSync := p.client.Chat(); chatSync != nil {
		if thread, ok := chatSync.ActiveThread(); ok {
			fmt.Printf("chat: %s (%d unread across threads)\n", thread.Partner.Username, totalUnread(p.client))
		}
	}
}

func (p *printListener) OnError(message string) {
	logger.Errorf("%s", message)
}

func totalUnread(client *sdk.Client) int {
	chatSync := client.Chat()
	if chatSync == nil {
		return 0
	}
	total := 0
	for _, thread := range chatSync.Threads() {
		total += thread.UnreadCount
	}
	return total
}

func watchCommand(cfg *config.Config) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	client.SetListener(&printListener{client: client})

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	if chatSync := client.Chat(); chatSync != nil {
		if err := chatSync.LoadThreads(ctx); err != nil {
			logger.Warnf("initial thread load: %v", err)
		}
	}

	fmt.Println("Watching for events, press Ctrl+C to stop")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	client.Disconnect()
	return nil
}

func chatCommand(cfg *config.Config, args []string) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	ctx := context.Background()
	if err := client.EnsureFreshToken(ctx); err != nil {
		return err
	}

	chatSync := client.Chat()
	if chatSync == nil {
		return fmt.Errorf("not logged in; run `bookcross login` first")
	}
	if err := chatSync.LoadThreads(ctx); err != nil {
		return err
	}

	if len(args) == 0 || args[0] == "list" {
		for _, thread := range chatSync.Threads() {
			marker := " "
			if thread.UnreadCount > 0 {
				marker = "*"
			}
			fmt.Printf("%s #%d %s: %s\n", marker, thread.ID, thread.Partner.Username, thread.LastMessage)
		}
		return nil
	}

	switch args[0] {
	case "send":
		if len(args) < 3 {
			return fmt.Errorf("usage: bookcross chat send <username> <message>")
		}
		if err := chatSync.StartThreadByUsername(ctx, args[1]); err != nil {
			if detail := chatSync.LastError(); detail != "" {
				return fmt.Errorf("%s", detail)
			}
			return err
		}
		return chatSync.SendMessage(ctx, strings.Join(args[2:], " "))
	default:
		return fmt.Errorf("unknown chat subcommand: %s", args[0])
	}
}

func printUsage() {
	fmt.Println(`bookcross - realtime client for the bookcross book exchange

Usage:
  bookcross [flags] <command>

Commands:
  login            authenticate and store credentials
  logout           destroy the stored session
  watch            connect the event channel and print pushed events
  chat [list]      list conversation threads
  chat send <username> <message>
                   send a chat message
  version          print version information

Flags:
  -server URL      override the API base URL
  -debug           enable verbose logging`)
}
