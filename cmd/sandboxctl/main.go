// sandboxctl is the operator CLI for sandboxd: list profiles, inspect
// and manage live sessions, and a live-refreshing TUI dashboard.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Println(red("error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var serverURL string

	root := &cobra.Command{
		Use:   "sandboxctl",
		Short: "Operator CLI for the sandbox session manager",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "sandboxd API base URL")

	client := func() *apiClient { return newAPIClient(serverURL) }

	root.AddCommand(newProfilesCommand(client))
	root.AddCommand(newStatusCommand(client))
	root.AddCommand(newExtendCommand(client))
	root.AddCommand(newCloseCommand(client))
	root.AddCommand(newCleanupCommand(client))
	root.AddCommand(newHealthCommand(client))
	root.AddCommand(newTUICommand(client))

	return root
}

func newProfilesCommand(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List allowed sandbox profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := client().listProfiles()
			if err != nil {
				return err
			}
			for _, p := range profiles {
				confirm := ""
				if p.NeedsConfirm {
					confirm = yellow(" [needs confirm]")
				}
				fmt.Printf("%s %s — %s%s\n", bold("●"), green(p.Name), p.Description, confirm)
			}
			return nil
		},
	}
}

func newStatusCommand(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List tracked sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := client().listSessions()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println(yellow("no tracked sessions"))
				return nil
			}
			for _, s := range sessions {
				fmt.Printf("%s session=%s remaining=%ds ttl=%ds persistent=%v\n",
					bold("●"), s.SessionID, s.RemainingSeconds, s.TTLSeconds, s.Persistent)
			}
			return nil
		},
	}
}

func newExtendCommand(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "extend <session-id> <delta-seconds>",
		Short: "Extend a session's TTL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("delta-seconds must be an integer: %w", err)
			}
			newTTL, err := client().extend(args[0], delta)
			if err != nil {
				return err
			}
			fmt.Printf("%s new ttl: %ds\n", green("ok"), newTTL)
			return nil
		},
	}
}

func newCloseCommand(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "close <session-id>",
		Short: "Stop and untrack a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().closeSession(args[0]); err != nil {
				return err
			}
			fmt.Println(green("closed"), args[0])
			return nil
		},
	}
}

func newCleanupCommand(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Stop every tracked session",
		RunE: func(cmd *cobra.Command, args []string) error {
			stopped, err := client().cleanupAll()
			if err != nil {
				return err
			}
			fmt.Printf("%s stopped %d session(s)\n", green("ok"), len(stopped))
			return nil
		},
	}
}

func newHealthCommand(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check sandboxd/engine health",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := client().health()
			if err != nil {
				return err
			}
			if status == "ok" {
				fmt.Println(green(status))
			} else {
				fmt.Println(yellow(status))
			}
			return nil
		},
	}
}
