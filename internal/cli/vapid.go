package cli

import (
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"
)

// NewVAPIDCommand creates the vapid command, which generates a key pair for
// authenticating the server to push services.
func NewVAPIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid",
		Short: "Generate a VAPID key pair",
		Long: `Generate a VAPID key pair and print it. Configure the server with the
generated values (HYDRATED_PUSH_VAPID_PUBLIC_KEY / HYDRATED_PUSH_VAPID_PRIVATE_KEY
or the push section of the config file).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
			if err != nil {
				return fmt.Errorf("failed to generate VAPID keys: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "public key:  %s\nprivate key: %s\n", publicKey, privateKey)
			return nil
		},
	}
}
