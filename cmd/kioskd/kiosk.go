package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"kioskvote.org/internal/audit"
	"kioskvote.org/internal/ids"
	"kioskvote.org/internal/kiosk"
)

func newKioskCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kiosk",
		Short: "Manage polling-station kiosks",
	}
	cmd.AddCommand(newKioskAddCmd(g))
	return cmd
}

func newKioskAddCmd(g *globalFlags) *cobra.Command {
	var name, comment, secret string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a kiosk and print its secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			if cfg.AuthSalt == "" {
				return fmt.Errorf("KIOSKVOTE_AUTH_SALT is required")
			}
			b, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer b.close()
			if b.lister == nil {
				return errNotPersistent
			}

			if secret == "" {
				if secret, err = ids.Secret(16); err != nil {
					return err
				}
			}
			authn := kiosk.NewAuthenticator(b.kiosks, cfg.AuthSalt, 0)
			k, err := authn.Register(cmd.Context(), name, comment, secret)
			if err != nil {
				return err
			}
			audit.NewRecorder(b.audit).Record(cmd.Context(), audit.LevelInfo, "kiosk.registered", map[string]any{
				"kiosk_id": k.ID,
				"name":     k.Name,
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				kiosk.Kiosk
				Secret string `json:"secret"`
			}{k, secret})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "kiosk label")
	cmd.Flags().StringVar(&comment, "comment", "", "free-text note")
	cmd.Flags().StringVar(&secret, "secret", "", "pre-shared secret (generated when empty)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
