package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := newManager()
		if err != nil {
			return err
		}
		defer m.Dispose()

		sessions := m.Sessions()
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		})

		for _, sess := range sessions {
			name := sess.Name
			if name == "" {
				name = "-"
			}
			fmt.Printf("%s  %-7s %-16s %s  %s\n",
				sess.ID, sess.AgentType, sess.Status, sess.UpdatedAt.Format("2006-01-02 15:04"), name)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Replay a session's event timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := newManager()
		if err != nil {
			return err
		}
		defer m.Dispose()

		sess, err := m.Session(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s, %s)\n", sess.ID, sess.AgentType, sess.Status)
		if sess.CWD != "" {
			fmt.Printf("cwd: %s\n", sess.CWD)
		}
		fmt.Println("---")

		events, err := m.History(args[0])
		if err != nil {
			return err
		}
		for _, ev := range events {
			fmt.Printf("%s  ", ev.Timestamp.Format("15:04:05"))
			renderEvent(ev)
		}
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <session-id> <name>",
	Short: "Set a session's display name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := newManager()
		if err != nil {
			return err
		}
		defer m.Dispose()
		return m.SetName(args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(renameCmd)
}
