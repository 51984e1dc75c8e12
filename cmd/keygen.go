package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/triunity/node/crypto"
	"github.com/triunity/node/logx"
	"github.com/triunity/node/types"
)

var (
	keygenOut   string
	keygenForce bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a node signing key",
	Long: `Generate a Dilithium2 key seed, write it base58-encoded to --out and
print the derived account address. The same seed also fixes the libp2p peer identity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return generateKey(keygenOut, keygenForce)
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "./node.key", "Where to write the key seed")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "Overwrite an existing key file")
}

func generateKey(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("key file %s already exists, use --force to overwrite", path)
	}
	kp, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(kp.SeedBase58()+"\n"), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	logx.Info("KEYGEN", "Wrote key seed to", path)
	fmt.Printf("address: %s\n", types.AccountKey(kp.PublicKey()))
	return nil
}

func loadKey(path string) (*crypto.KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	return crypto.KeyPairFromBase58(strings.TrimSpace(string(raw)))
}

