package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/matter/payload"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply pending database migrations and exit.

With --status, list applied and pending migrations without changing anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ctx := cmd.Context()

			if !status {
				db, err := openDatabase(ctx, cfg)
				if err != nil {
					return err
				}
				defer db.Close() //nolint:errcheck // Read-only after migrating
				fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", cfg.Database.Path)
				return nil
			}

			db, err := openDatabaseOnly(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // Nothing written
			applied, pending, err := db.GetMigrationStatus(ctx)
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, r := range applied {
				fmt.Fprintf(out, "applied  %s  %s\n", r.Version, r.AppliedAt.Format(time.RFC3339))
			}
			for _, m := range pending {
				fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "list migrations instead of applying them")
	return cmd
}

// payloadReport is the decoded form of a setup code.
type payloadReport struct {
	Version       uint8  `json:"version"`
	VendorID      uint16 `json:"vendor_id"`
	ProductID     uint16 `json:"product_id"`
	Flow          string `json:"flow"`
	Rendezvous    string `json:"rendezvous"`
	Discriminator uint16 `json:"discriminator"`
	Short         bool   `json:"short_discriminator"`
	Passcode      uint32 `json:"passcode"`
	ManualCode    string `json:"manual_code"`
	QRCode        string `json:"qr_code,omitempty"`
}

func newPayloadCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "payload <setup-code>",
		Short: "Decode a Matter manual pairing code or QR payload",
		Long: `Decode a Matter onboarding code and print its fields.

Accepts an 11 or 21 digit manual pairing code (dashes and spaces allowed)
or an MT: QR code string. The code is re-encoded in both forms where the
payload carries enough information.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := payload.Parse(args[0])
			if err != nil {
				return err
			}
			report, err := describePayload(p)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

// describePayload fills a report, re-encoding p as a manual code and, when
// the payload carries a full discriminator, a QR code.
func describePayload(p payload.SetupPayload) (payloadReport, error) {
	manual, err := payload.EncodeManualCode(p)
	if err != nil {
		return payloadReport{}, fmt.Errorf("encoding manual code: %w", err)
	}
	r := payloadReport{
		Version:       p.Version,
		VendorID:      p.VendorID,
		ProductID:     p.ProductID,
		Flow:          p.Flow.String(),
		Rendezvous:    p.Rendezvous.String(),
		Discriminator: p.Discriminator.Value,
		Short:         p.Discriminator.Short,
		Passcode:      p.Passcode,
		ManualCode:    payload.FormatManualCode(manual),
	}
	if !p.Discriminator.Short {
		qr, err := payload.EncodeQRCode(p)
		if err != nil {
			return payloadReport{}, fmt.Errorf("encoding QR code: %w", err)
		}
		r.QRCode = qr
	}
	return r, nil
}

func writeReport(w io.Writer, r payloadReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Fprintf(w, "version:        %d\n", r.Version)
	fmt.Fprintf(w, "vendor id:      0x%04X\n", r.VendorID)
	fmt.Fprintf(w, "product id:     0x%04X\n", r.ProductID)
	fmt.Fprintf(w, "flow:           %s\n", r.Flow)
	fmt.Fprintf(w, "rendezvous:     %s\n", r.Rendezvous)
	if r.Short {
		fmt.Fprintf(w, "discriminator:  %d (short)\n", r.Discriminator)
	} else {
		fmt.Fprintf(w, "discriminator:  %d\n", r.Discriminator)
	}
	fmt.Fprintf(w, "passcode:       %08d\n", r.Passcode)
	fmt.Fprintf(w, "manual code:    %s\n", r.ManualCode)
	if r.QRCode != "" {
		fmt.Fprintf(w, "qr code:        %s\n", r.QRCode)
	}
	return nil
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		Long: `Issue a signed API access token using security.jwt from the config.

The token is printed on stdout. Roles are viewer, operator and admin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Security.JWT.Secret == "" {
				return fmt.Errorf("security.jwt.secret is not set; the API is unauthenticated")
			}
			if ttl == 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}
			token, err := auth.GenerateAccessToken(subject, auth.Role(role), auth.TokenOptions{
				Secret: cfg.Security.JWT.Secret,
				Issuer: cfg.Security.JWT.Issuer,
				TTL:    ttl,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "installer", "client name recorded in the token")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "viewer, operator or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graylogic-gateway %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
