package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the room adapter server",
		Long: `Authenticate with the room adapter server using your client ID.
This will generate a JWT token that can be used for subsequent requests.
The client ID "admin" receives an admin token.`,
		RunE: runAuth,
	}

	return cmd
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	status(cmd, "Authenticating with server %s as client %s...\n", serverURL, clientID)

	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	token := client.GetToken()
	result := map[string]string{"clientId": clientID, "token": token}
	return render(cmd, result, func(w io.Writer) {
		fmt.Fprintf(w, "✅ Authentication successful!\n")
		fmt.Fprintf(w, "Token: %s\n", token)
		fmt.Fprintf(w, "\nYou can now use other commands or save this token for future use:\n")
		fmt.Fprintf(w, "  export %s=\"%s\"\n", tokenEnv, token)
		fmt.Fprintf(w, "  roomadapter-cli join lobby --socket s1\n")
	})
}
