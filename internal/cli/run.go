package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/soyeahso/parley/internal/adapter"
	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/convo"
	"github.com/soyeahso/parley/internal/coordinator"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/gateway"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/store"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		port       int
		bind       string
		withGw     bool
		transcript string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Host the conversation defined in the config file",
		Long:  "Starts every configured participant under a pseudo-terminal, wires them into a shared conversation, and reads user messages from stdin until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if withGw {
				cfg.Gateway.Enabled = true
			}
			if transcript != "" {
				cfg.Transcript.Dir = transcript
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if len(cfg.Participants) == 0 {
				return fmt.Errorf("no participants configured in %s", paths.Config)
			}

			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			// Config-level log settings apply unless flags override them.
			level := logLevel
			if level == "" {
				level = cfg.Logging.Level
			}
			if cfg.Logging.File != "" {
				fw, err := logging.FileWriter(cfg.Logging.File)
				if err != nil {
					return fmt.Errorf("opening log file: %w", err)
				}
				defer fw.Close()
				log = logging.New(logging.Tee(fw), level)
			} else if logLevel == "" && cfg.Logging.Level != "" {
				log = logging.New(nil, level)
			}

			// Persistence backend
			var st store.Store
			switch cfg.Store.Backend {
			case "memory":
				st = store.NewMemoryStore()
				log.Info().Msg("using in-memory store")
			default:
				dbPath := cfg.Store.Path
				if dbPath == "" {
					dbPath = paths.StoreFile()
				}
				db, err := store.Open(dbPath, log)
				if err != nil {
					return fmt.Errorf("opening store: %w", err)
				}
				defer db.Close()
				st = store.NewSQLiteStore(db)
				log.Info().Str("path", dbPath).Msg("using SQLite store")
			}

			// Restore the conversation if a snapshot exists, otherwise start fresh.
			var sess *convo.Session
			if rec, err := st.Load(cfg.Conversation.ID); err != nil {
				return fmt.Errorf("loading conversation %q: %w", cfg.Conversation.ID, err)
			} else if rec != nil {
				sess = convo.Restore(*rec)
				log.Info().Str("id", sess.ID()).Int64("sequence", sess.Sequence()).Msg("conversation restored")
			} else {
				sess = convo.New(cfg.Conversation.ID, cfg.Conversation.Title)
				log.Info().Str("id", sess.ID()).Msg("conversation created")
			}

			transcriptDir := cfg.Transcript.Dir
			if transcriptDir == "" {
				transcriptDir = paths.Transcripts
			}
			tw, err := store.NewTranscriptWriter(filepath.Join(transcriptDir, sess.ID()+".md"))
			if err != nil {
				return fmt.Errorf("creating transcript: %w", err)
			}

			hookMgr := hooks.NewManager(log)
			hooks.RegisterCommands(hookMgr, hookCommands(cfg.Hooks), log)

			coord := coordinator.New(coordinatorConfig(cfg), sess, st, tw, hookMgr, log)
			defer coord.Shutdown()

			for _, p := range cfg.Participants {
				ad, err := adapter.StartPTY(adapter.PTYConfig{
					Command:     p.Command,
					Args:        p.Args,
					Dir:         p.Workdir,
					Env:         envList(p.Env),
					QuietWindow: time.Duration(p.QuietWindowMs) * time.Millisecond,
				}, log.Sub(p.ID))
				if err != nil {
					return fmt.Errorf("starting participant %q: %w", p.ID, err)
				}
				name := p.Name
				if name == "" {
					name = p.ID
				}
				coord.AddParticipant(domain.ParticipantInfo{ID: p.ID, Name: name, Color: p.Color}, ad)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hookMgr.EmitAsync(ctx, hooks.EventSessionStart, map[string]any{
				"sessionId": sess.ID(),
			})
			defer hookMgr.Emit(context.Background(), hooks.EventSessionEnd, map[string]any{
				"sessionId": sess.ID(),
			})

			if cfg.Gateway.Enabled {
				raw, err := config.LoadRaw(paths.Config)
				if err != nil {
					raw = make(map[string]any)
				}
				srv := gateway.New(cfg, log,
					gateway.WithConfigRaw(raw),
					gateway.WithCoordinator(coord),
					gateway.WithStore(st),
					gateway.WithHooks(hookMgr),
				)
				go func() {
					if err := srv.Start(ctx); err != nil {
						log.Error().Err(err).Msg("gateway stopped")
					}
				}()
			}

			fmt.Printf("Conversation %q with %d participant(s). Type a message, or /status /stop /reset /quit.\n",
				sess.ID(), len(cfg.Participants))
			fmt.Printf("Transcript: %s\n", tw.Path())

			go readInput(ctx, stop, coord)

			<-ctx.Done()
			fmt.Println("\nShutting down...")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override gateway bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&withGw, "gateway", false, "enable the control gateway")
	cmd.Flags().StringVar(&transcript, "transcript-dir", "", "override transcript directory")

	return cmd
}

// readInput feeds stdin lines into the conversation until ctx is done.
// Slash commands control the table without posting a message.
func readInput(ctx context.Context, stop context.CancelFunc, coord *coordinator.Coordinator) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			stop()
			return
		case "/status":
			printStatus(coord.Status())
		case "/stop":
			coord.StopAll()
			fmt.Println("All participants stopped. /reset to resume.")
		case "/reset":
			coord.ResetAll()
			fmt.Println("All participants reset.")
		default:
			seq := coord.SendUserMessage(line)
			fmt.Printf("[%d] you: %s\n", seq, line)
		}
	}
}

func printStatus(status domain.ConversationStatus) {
	state := "active"
	if status.Stalled {
		state = "stalled"
	} else if !status.Active {
		state = "idle"
	}
	fmt.Printf("Conversation %s: seq=%d %s\n", status.SessionID, status.Sequence, state)
	for _, p := range status.Participants {
		busy := "idle"
		if p.Processing {
			busy = "processing"
		}
		fmt.Printf("  %-12s %-10s seen=%d passes=%d\n", p.Name, busy, p.LastSeenSequence, p.ConsecutivePasses)
	}
}

// coordinatorConfig converts the millisecond config knobs into durations.
// Zero values pass through so the participant defaults apply.
func coordinatorConfig(cfg config.Config) coordinator.Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return coordinator.Config{
		Template:            cfg.Prompt.Template,
		PassSignal:          cfg.Prompt.PassSignal,
		PollInterval:        ms(cfg.Timing.PollIntervalMs),
		CapturePollInterval: ms(cfg.Timing.CapturePollIntervalMs),
		StabilityThreshold:  ms(cfg.Timing.StabilityThresholdMs),
		DeliveryBaseDelay:   ms(cfg.Timing.DeliveryBaseDelayMs),
		DeliveryMaxDelay:    ms(cfg.Timing.DeliveryMaxDelayMs),
		CaptureTimeout:      ms(cfg.Timing.CaptureTimeoutMs),
	}
}

// hookCommands maps the config hook sections onto event-keyed command specs.
func hookCommands(hc config.HooksConfig) map[string][]hooks.CommandSpec {
	out := make(map[string][]hooks.CommandSpec)
	add := func(event string, entries []config.HookEntry) {
		for _, e := range entries {
			out[event] = append(out[event], hooks.CommandSpec{
				Command: e.Command,
				Timeout: time.Duration(e.Timeout) * time.Millisecond,
			})
		}
	}
	add(hooks.EventMessagePosted, hc.MessagePosted)
	add(hooks.EventParticipantPassed, hc.ParticipantPassed)
	add(hooks.EventConversationStalled, hc.ConversationStalled)
	add(hooks.EventConversationResumed, hc.ConversationResumed)
	add(hooks.EventParticipantJoined, hc.ParticipantJoined)
	add(hooks.EventParticipantLeft, hc.ParticipantLeft)
	add(hooks.EventSessionStart, hc.SessionStart)
	add(hooks.EventSessionEnd, hc.SessionEnd)
	return out
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
