package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/server"
)

const chatHelp = `Commands:
  /help     show this help
  /new      start a fresh session
  /status   show stage and progress
  /export   print the campaign package as JSON
  /quit     leave`

func newChatCmd(v *viper.Viper) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Build a campaign interactively in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(v)
			if err != nil {
				return err
			}
			defer a.close()
			return runChat(cmd.Context(), a, user)
		},
	}
	cmd.Flags().StringVar(&user, "user", "local", "user id")
	return cmd
}

func runChat(ctx context.Context, a *app, user string) error {
	resp, err := a.orch.StartSession(ctx, user)
	if err != nil {
		return err
	}
	printResponse(resp)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Println(chatHelp)
			continue
		case "/new":
			resp, err = a.orch.StartSession(ctx, user)
			if err != nil {
				return err
			}
			printResponse(resp)
			continue
		case "/status":
			fmt.Printf("Stage: %s  Progress: %.0f%%\n", resp.StageName, resp.Progress*100)
			continue
		case "/export":
			campaign, err := a.orch.Campaign(ctx, resp.SessionID)
			if err != nil {
				fmt.Println("Export failed:", err)
				continue
			}
			data, _ := json.MarshalIndent(campaign, "", "  ")
			fmt.Println(string(data))
			continue
		}

		next, err := a.orch.HandleTurn(ctx, resp.SessionID, line)
		if err != nil {
			fmt.Println("Sorry, that didn't work:", err)
			continue
		}
		resp = next
		printResponse(resp)
	}
}

func printResponse(resp *core.Response) {
	fmt.Println("\n" + resp.Text)
	for _, art := range resp.Artifacts {
		fmt.Printf("  [visual] %s\n", art.URL)
	}
	if len(resp.Suggestions) > 0 {
		fmt.Println("\nYou could say:")
		for _, s := range resp.Suggestions {
			fmt.Printf("  - %s\n", s)
		}
	}
	if resp.CampaignComplete {
		fmt.Println("\nCampaign complete! Use /export to save it.")
	}
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the campaign builder over WebSocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(v)
			if err != nil {
				return err
			}
			defer a.close()

			srv := server.New(a.orch, server.WithLogger(a.log))
			a.log.Info().Str("addr", addr).Msg("[campaigner] listening")

			httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}
			go func() {
				<-cmd.Context().Done()
				_ = httpSrv.Close()
			}()
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8787", "listen address")
	return cmd
}
