package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/okian/crewmap/internal/app"
	"github.com/okian/crewmap/internal/domain/model"
)

var (
	errAlreadyInCrew  = errors.New("already in a crew; run logout first")
	errEphemeralStore = errors.New("the memory store is lost when the command exits; use store_driver sqlite or postgres")
)

func newCreateCmd(e *env) *cobra.Command {
	var req app.CreateRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a crew and join it as its first member",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := onboard(cmd.Context(), e, func(o *app.Onboarding) (model.Session, error) {
				return o.CreateCrew(cmd.Context(), req)
			})
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), sess)
			fmt.Fprintf(cmd.OutOrStdout(), "Share invite code %s with your crew.\n", sess.InviteCode)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.CrewName, "crew", "", "Crew name")
	cmd.Flags().StringVar(&req.MemberName, "name", "", "Your display name")
	cmd.Flags().StringVar(&req.DeviceUniqueID, "device-id", "", "Unique id your tracking app reports")
	_ = cmd.MarkFlagRequired("crew")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("device-id")
	return cmd
}

func newJoinCmd(e *env) *cobra.Command {
	var req app.JoinRequest
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a crew with an invite code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := onboard(cmd.Context(), e, func(o *app.Onboarding) (model.Session, error) {
				return o.JoinCrew(cmd.Context(), req)
			})
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), sess)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.InviteCode, "code", "", "Invite code")
	cmd.Flags().StringVar(&req.MemberName, "name", "", "Your display name")
	cmd.Flags().StringVar(&req.DeviceUniqueID, "device-id", "", "Unique id your tracking app reports")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("device-id")
	return cmd
}

func newStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, ok, err := e.sessions.Get()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Not in a crew.")
				return nil
			}
			printSession(cmd.OutOrStdout(), sess)
			return nil
		},
	}
}

func newLogoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the local session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.sessions.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func printSession(w io.Writer, s model.Session) {
	fmt.Fprintf(w, "Crew:        %s (%s)\n", s.CrewName, s.CrewID)
	fmt.Fprintf(w, "Invite code: %s\n", s.InviteCode)
	fmt.Fprintf(w, "Member:      %s (%s)\n", s.MemberName, s.MemberID)
	fmt.Fprintf(w, "Device:      %s (provider id %s)\n", s.DeviceUniqueID, s.DeviceID)
}
