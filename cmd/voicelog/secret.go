package voicelog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sjzar/voicelog/internal/keystore"
	"github.com/sjzar/voicelog/internal/voicelog/conf"
)

func init() {
	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd)
	rootCmd.AddCommand(secretCmd)
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets such as the remote transcription credential",
}

func openSecrets() (*keystore.Store, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	return keystore.Open(filepath.Join(cfg.Get().DataDir, "secrets"))
}

var secretSetCmd = &cobra.Command{
	Use:   "set [name] [value]",
	Short: "Store a secret; the value is read from stdin when omitted",
	Long:  "Store a secret. name defaults to " + conf.DefaultCredentialName + ", the remote transcription credential.",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := conf.DefaultCredentialName
		if len(args) > 0 {
			name = args[0]
		}
		var value string
		if len(args) > 1 {
			value = args[1]
		} else {
			fmt.Fprintf(os.Stderr, "value for %s: ", name)
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return err
			}
			value = line
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return fmt.Errorf("empty secret value")
		}

		secrets, err := openSecrets()
		if err != nil {
			return err
		}
		if err := secrets.Put(name, []byte(value)); err != nil {
			return err
		}
		fmt.Println("stored", name)
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secrets, err := openSecrets()
		if err != nil {
			return err
		}
		if err := secrets.Delete(args[0]); err != nil {
			return err
		}
		fmt.Println("deleted", args[0])
		return nil
	},
}
