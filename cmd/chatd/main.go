package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"chatd/internal/chat"
	"chatd/internal/client"
	"chatd/internal/config"
	"chatd/internal/i18n"
	"chatd/internal/storage"
	"chatd/internal/store"
	"chatd/internal/thread"
)

func main() {
	var (
		configPath string
		threadID   string
		useThread  bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON")
	flag.StringVar(&threadID, "thread", "", "Open an existing remote thread")
	flag.BoolVar(&useThread, "new-thread", false, "Start a fresh remote thread session")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	i18n.Init(cfg.Locale)

	log := newLogger()

	blob, err := storage.NewSQLiteBlobStore(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "init storage failed: %v\n", err)
		os.Exit(1)
	}

	clients := client.NewRegistry(&cfg)

	opts := store.Options{}
	if strings.TrimSpace(cfg.Thread.BaseURL) != "" {
		threadCli := thread.NewClient(cfg.Thread, cfg.ProviderFor(config.ProviderOpenAI).APIKey)
		opts.ThreadClient = threadCli
		opts.AssistantID = resolveAssistantID(threadCli, &cfg, log)
	}

	st, err := store.New(&cfg, blob, clients, opts, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init store failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if threadID != "" || useThread {
		if opts.AssistantID == "" {
			fmt.Fprintln(os.Stderr, "thread mode requires an assistant id (ASSISTANT_ID or thread.config_url)")
			os.Exit(1)
		}
		if _, err := st.NewSessionWithThread(ctx, threadID, nil); err != nil {
			fmt.Fprintf(os.Stderr, "open thread failed: %v\n", err)
			os.Exit(1)
		}
	}

	runREPL(ctx, st, log)

	if err := st.Shutdown(); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(os.Getenv("CHATD_LOG")); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// resolveAssistantID uses the configured id, falling back to the remote
// deployment descriptor.
func resolveAssistantID(cli *thread.Client, cfg *config.App, log zerolog.Logger) string {
	if id := strings.TrimSpace(cfg.Thread.AssistantID); id != "" {
		return id
	}
	if strings.TrimSpace(cfg.Thread.ConfigURL) == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	remote, err := cli.FetchAssistantConfig(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("assistant config fetch failed")
		return ""
	}
	if remote.HasAssistantID {
		return remote.AssistantID
	}
	return ""
}

func runREPL(ctx context.Context, st *store.Store, log zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	printCurrent(st)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			if quit := runCommand(ctx, st, line); quit {
				return
			}
			continue
		}

		if err := st.OnUserInput(ctx, line, nil); err != nil {
			log.Error().Err(err).Msg("turn failed")
			continue
		}
		sess := st.CurrentSession()
		if m := sess.LastMessage(); m != nil && m.Role == chat.RoleAssistant {
			fmt.Println(m.Content)
		}
	}
}

// runCommand handles session management commands. Returns true on quit.
func runCommand(ctx context.Context, st *store.Store, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case ":q", ":quit", ":exit":
		return true
	case ":new":
		st.NewSession(nil)
		printCurrent(st)
		fmt.Println(i18n.T("store.bot_hello"))
	case ":fork":
		st.ForkSession()
		printCurrent(st)
	case ":thread":
		id := ""
		if len(args) > 0 {
			id = args[0]
		}
		if _, err := st.NewSessionWithThread(ctx, id, nil); err != nil {
			fmt.Fprintf(os.Stderr, "open thread failed: %v\n", err)
			break
		}
		printCurrent(st)
	case ":sessions":
		cur := st.CurrentIndex()
		for i, sess := range st.Sessions() {
			marker := " "
			if i == cur {
				marker = "*"
			}
			fmt.Printf("%s %2d  %s (%d messages)\n", marker, i, sess.Topic, len(sess.Messages))
		}
	case ":select":
		if i, ok := argIndex(args); ok {
			st.SelectSession(i)
			printCurrent(st)
		}
	case ":next":
		st.NextSession(1)
		printCurrent(st)
	case ":prev":
		st.NextSession(-1)
		printCurrent(st)
	case ":del":
		i := st.CurrentIndex()
		if n, ok := argIndex(args); ok {
			i = n
		}
		if st.DeleteSession(i) {
			fmt.Println(i18n.T("home.delete_toast"))
		}
	case ":undo":
		if st.UndoDelete() {
			fmt.Println(i18n.T("home.revert"))
		}
	case ":reset":
		st.ResetSession(st.CurrentSession().ID)
	case ":clear-context":
		st.ClearContext(st.CurrentSession().ID)
	case ":title":
		st.RefreshTitle(st.CurrentSession().ID)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", cmd)
	}
	return false
}

func argIndex(args []string) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	i, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad index %q\n", args[0])
		return 0, false
	}
	return i, true
}

func printCurrent(st *store.Store) {
	sess := st.CurrentSession()
	fmt.Printf("[%s] %s\n", sess.Mask.ModelConfig.Model, sess.Topic)
}
