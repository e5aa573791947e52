package commands

import (
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions on the server",
	Long: `List the sessions the server knows about. The session custodian used
last in this directory is marked with "*".

Examples:
  custodian sessions
  custodian sessions new
  custodian sessions delete ses_01j...`,
	RunE: runSessions,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a session and make it the default for this directory",
	Args:  cobra.NoArgs,
	RunE:  runSessionsNew,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	list, err := a.client.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	a.out.Sessions(list, a.prefs.LastSessionID())
	return nil
}

func runSessionsNew(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	s, err := a.engine.CreateSession(cmd.Context())
	if err != nil {
		return err
	}
	a.out.Help(s.ID)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if err := a.engine.DeleteSession(cmd.Context(), args[0]); err != nil {
		return err
	}
	if a.prefs.LastSessionID() == args[0] {
		if err := a.prefs.ClearLastSessionID(); err != nil {
			a.log.Warn().Err(err).Msg("clear last session failed")
		}
	}
	a.out.Notice("deleted %s", args[0])
	return nil
}
