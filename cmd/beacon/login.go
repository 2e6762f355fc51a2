package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
	signupName    string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session for later runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close(ctx)

		if loginPassword == "" {
			fmt.Fprint(cmd.ErrOrStderr(), "password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("password is required")
			}
			loginPassword = strings.TrimRight(line, "\r\n")
		}

		if signupName != "" {
			s, err := d.auth.SignUp(ctx, loginEmail, loginPassword, signupName)
			if err != nil {
				return err
			}
			out, _ := json.Marshal(s.User)
			printJSON(cmd, out)
			return nil
		}
		s, err := d.auth.SignIn(ctx, loginEmail, loginPassword)
		if err != nil {
			return err
		}
		out, _ := json.Marshal(s.User)
		printJSON(cmd, out)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke and forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close(ctx)
		if _, err := d.auth.Restore(ctx); err != nil {
			// nothing live to revoke; still clear what is stored
			fmt.Fprintln(cmd.ErrOrStderr(), "no live session:", err)
		}
		return d.auth.SignOut(ctx)
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "account e-mail")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password, read from stdin when empty")
	loginCmd.Flags().StringVar(&signupName, "signup", "", "create the account with this username")
	_ = loginCmd.MarkFlagRequired("email")
}
