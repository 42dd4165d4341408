// Command campaigner is the conversational campaign builder: an interactive
// chat CLI, a WebSocket server, and session management utilities over the
// same engine.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/campaignkit/campaignkit/agents"
	"github.com/campaignkit/campaignkit/memory"
	"github.com/campaignkit/campaignkit/memory/store/sqlite"
	"github.com/campaignkit/campaignkit/orchestrator"
	"github.com/campaignkit/campaignkit/profile"
	"github.com/campaignkit/campaignkit/services"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "campaigner",
		Short:         "Build marketing campaigns through conversation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("db", "campaigner.db", "path to the session database")
	flags.String("api-key", "", "Anthropic API key (or ANTHROPIC_API_KEY)")
	flags.String("model", "", "override the default model")
	flags.String("image-endpoint", "", "image generation API endpoint (empty uses the URL provider)")
	flags.Bool("demo", false, "run offline with scripted providers")
	flags.String("log-level", "info", "zerolog level")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("CAMPAIGNER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newChatCmd(v),
		newServeCmd(v),
		newSessionsCmd(v),
		newExportCmd(v),
		newPurgeCmd(v),
	)
	return root
}

// app bundles everything a command needs.
type app struct {
	orch  *orchestrator.Orchestrator
	mem   *memory.Manager
	store *sqlite.Store
	log   zerolog.Logger
}

func (a *app) close() {
	_ = a.store.Close()
}

func buildApp(v *viper.Viper) (*app, error) {
	level, err := zerolog.ParseLevel(v.GetString("log-level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	store, err := sqlite.Open(v.GetString("db"))
	if err != nil {
		return nil, err
	}

	var (
		llm   services.LLMService
		image services.ImageService
	)
	if v.GetBool("demo") {
		llm = services.NewScriptedLLM()
		image = services.NewStaticImage()
		log.Info().Msg("[campaigner] demo mode, no external calls")
	} else {
		var llmOpts []services.AnthropicOption
		if m := v.GetString("model"); m != "" {
			llmOpts = append(llmOpts, services.WithModel(m))
		}
		llmOpts = append(llmOpts, services.WithAnthropicLogger(log))
		llm = services.NewAnthropicLLM(v.GetString("api-key"), llmOpts...)

		if ep := v.GetString("image-endpoint"); ep != "" {
			image = services.NewHTTPImage(ep, v.GetString("api-key"), services.WithImageLogger(log))
		} else {
			image = services.NewURLImage("")
		}
	}

	est, err := memory.NewTokenEstimator()
	var estimator memory.Estimator = est
	if err != nil {
		log.Warn().Err(err).Msg("[campaigner] tokenizer unavailable, using char estimator")
		estimator = memory.CharEstimator{}
	}

	mem, err := memory.NewManager(store, estimator, memory.NewLLMSummarizer(llm), memory.WithLogger(log))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	profiles, err := profile.NewStore(profile.NewLocalEmbedder(256), profile.WithStoreLogger(log))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	orch, err := orchestrator.New(mem, agents.Registry(llm, image, log),
		orchestrator.WithLogger(log),
		orchestrator.WithProfiles(profiles),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{orch: orch, mem: mem, store: store, log: log}, nil
}

func newSessionsCmd(v *viper.Viper) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List a user's sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(v)
			if err != nil {
				return err
			}
			defer a.close()

			sessions, err := a.mem.ListSessions(cmd.Context(), user, 20)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				cmd.Println("No sessions.")
				return nil
			}
			for _, s := range sessions {
				state := "open"
				if s.Closed {
					state = "closed"
				}
				cmd.Printf("%s  %-16s  %-6s  updated %s\n",
					s.ID, s.Stage, state, s.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "local", "user id")
	return cmd
}

func newExportCmd(v *viper.Viper) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session's campaign package as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(v)
			if err != nil {
				return err
			}
			defer a.close()

			campaign, err := a.orch.Campaign(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(campaign, "", "  ")
			if err != nil {
				return err
			}
			if out == "" {
				cmd.Println(string(data))
				return nil
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			cmd.Printf("Exported to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func newPurgeCmd(v *viper.Viper) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete sessions idle for longer than the given duration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(v)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.mem.PurgeExpired(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			cmd.Printf("Purged %d sessions.\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "idle cutoff")
	return cmd
}
