package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/ble-scanner/internal/api"
	"github.com/nerrad567/ble-scanner/internal/device"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/config"
)

// newDevicesCmd prints the persisted device table. It reads the store
// directly, so it works while the add-on is stopped.
func newDevicesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Print the persisted device table as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			st, err := openStorage(cmd.Context(), cfg.Storage)
			if err != nil {
				return fmt.Errorf("opening %s storage: %w", cfg.Storage.Backend, err)
			}
			defer st.Close() //nolint:errcheck // read-only use

			devices, err := st.Store.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading devices: %w", err)
			}
			return printDevices(cmd.OutOrStdout(), devices)
		},
	}
}

// printDevices writes devices as an indented JSON array sorted by MAC.
func printDevices(w io.Writer, devices map[string]*device.Device) error {
	list := make([]*device.Device, 0, len(devices))
	for _, d := range devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].MACAddress < list[j].MACAddress
	})

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}

// newTokenCmd mints an API bearer token signed with security.jwt.secret.
func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the mutating API routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Security.JWT.Secret == "" {
				return fmt.Errorf("security.jwt.secret is not set; the API accepts requests without a token")
			}

			token, err := api.GenerateToken(cfg.Security.JWT.Secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", api.DefaultTokenTTL, "token lifetime")

	return cmd
}
