// Package main provides the Entitled operator CLI.
//
// Local commands issue and inspect license files with the master key
// from LICENSE_MASTER_KEY. Remote commands call a running server's
// admin API with a bearer token.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vantagehr/entitled/internal/license"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "entitledctl",
		Short:        "Entitled licensing server operator CLI",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newLicenseCmd(),
		newSubscriptionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("entitledctl %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
		},
	}
}

func masterKeyFromEnv() ([]byte, error) {
	key := os.Getenv("LICENSE_MASTER_KEY")
	if key == "" {
		return nil, fmt.Errorf("LICENSE_MASTER_KEY environment variable is required")
	}
	return []byte(key), nil
}

func newLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Issue, inspect, and manage licenses",
	}
	cmd.AddCommand(
		newLicenseIssueCmd(),
		newLicenseInspectCmd(),
		newLicenseReloadCmd(),
		newLicenseStatusCmd(),
	)
	return cmd
}

// parseFeatureGrants parses "key" or "key=limit" entries.
func parseFeatureGrants(entries []string) ([]license.FeatureGrant, error) {
	grants := make([]license.FeatureGrant, 0, len(entries))
	for _, entry := range entries {
		key, limitStr, found := strings.Cut(entry, "=")
		if key == "" {
			return nil, fmt.Errorf("empty feature key in %q", entry)
		}
		grant := license.FeatureGrant{Key: key}
		if found {
			limit, err := strconv.Atoi(limitStr)
			if err != nil || limit < 0 {
				return nil, fmt.Errorf("invalid user limit in %q", entry)
			}
			grant.UserLimit = &limit
		}
		grants = append(grants, grant)
	}
	return grants, nil
}

func newLicenseIssueCmd() *cobra.Command {
	var (
		out         string
		mode        string
		issuer      string
		licenseID   string
		fingerprint string
		validDays   int
		features    []string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new license file",
		Long: `Issue a new encrypted license file.

The master key comes from LICENSE_MASTER_KEY. On-prem licenses carry
feature grants ("perf", "comp=50") and optionally a machine
fingerprint; cloud licenses carry neither because cloud entitlements
live in the subscription database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			masterKey, err := masterKeyFromEnv()
			if err != nil {
				return err
			}
			m := license.Mode(mode)
			if !m.IsValid() {
				return fmt.Errorf("mode must be %q or %q", license.ModeCloud, license.ModeOnPrem)
			}
			grants, err := parseFeatureGrants(features)
			if err != nil {
				return err
			}
			if m == license.ModeCloud && (len(grants) > 0 || fingerprint != "") {
				return fmt.Errorf("features and fingerprint are only valid for onprem licenses")
			}
			if licenseID == "" {
				licenseID = uuid.NewString()
			}

			now := time.Now().UTC()
			envelope, err := license.Encode(&license.Plaintext{
				Mode:               m,
				Issuer:             issuer,
				IssuedAt:           now,
				ExpiresAt:          now.AddDate(0, 0, validDays),
				LicenseID:          licenseID,
				MachineFingerprint: fingerprint,
				Features:           grants,
			}, masterKey)
			if err != nil {
				return err
			}

			if err := os.WriteFile(out, envelope, 0o600); err != nil {
				return fmt.Errorf("write license file: %w", err)
			}
			fmt.Printf("License %s written to %s (mode=%s, valid %d days)\n", licenseID, out, mode, validDays)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "license.lic", "Output file path")
	cmd.Flags().StringVar(&mode, "mode", "", "License mode: cloud or onprem (required)")
	cmd.Flags().StringVar(&issuer, "issuer", "VantageHR", "Issuer name embedded in the license")
	cmd.Flags().StringVar(&licenseID, "id", "", "License ID (default: random UUID)")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "Machine fingerprint (onprem only)")
	cmd.Flags().IntVar(&validDays, "valid-days", 365, "Days until expiry")
	cmd.Flags().StringSliceVar(&features, "feature", nil, "Feature grant, key or key=userLimit (repeatable, onprem only)")
	_ = cmd.MarkFlagRequired("mode")

	return cmd
}

func newLicenseInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Decrypt and print a license file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			masterKey, err := masterKeyFromEnv()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			lic, err := license.Decode(data, masterKey)
			if err != nil {
				return err
			}

			fmt.Printf("License ID:  %s\n", lic.LicenseID)
			fmt.Printf("Mode:        %s\n", lic.Mode)
			fmt.Printf("Issuer:      %s\n", lic.Issuer)
			fmt.Printf("Issued at:   %s\n", lic.IssuedAt.Format(time.RFC3339))
			fmt.Printf("Expires at:  %s\n", lic.ExpiresAt.Format(time.RFC3339))
			if lic.MachineFingerprint != "" {
				fmt.Printf("Fingerprint: %s\n", lic.MachineFingerprint)
			}
			for _, g := range lic.Features {
				if g.UserLimit != nil {
					fmt.Printf("Feature:     %s (user limit %d)\n", g.Key, *g.UserLimit)
				} else {
					fmt.Printf("Feature:     %s (unlimited)\n", g.Key)
				}
			}
			return nil
		},
	}
}

// adminClient calls a running server's admin API.
type adminClient struct {
	serverURL string
	token     string
	http      *http.Client
}

func newAdminClient(serverURL, token string) *adminClient {
	return &adminClient{
		serverURL: strings.TrimRight(serverURL, "/"),
		token:     token,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *adminClient) do(method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.serverURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

func printJSON(data []byte) {
	var buf bytes.Buffer
	if json.Indent(&buf, data, "", "  ") != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(buf.String())
}

func addServerFlags(cmd *cobra.Command, serverURL, token *string) {
	cmd.Flags().StringVar(serverURL, "server", "http://localhost:8080", "Entitled server URL")
	cmd.Flags().StringVar(token, "token", os.Getenv("ENTITLED_ADMIN_TOKEN"), "Admin bearer token (or set ENTITLED_ADMIN_TOKEN)")
}

func newLicenseReloadCmd() *cobra.Command {
	var serverURL, token string

	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask the server to reload its license file",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newAdminClient(serverURL, token).do(http.MethodPost, "/admin/license/reload", nil)
			if err != nil {
				return err
			}
			printJSON(body)
			return nil
		},
	}
	addServerFlags(cmd, &serverURL, &token)
	return cmd
}

func newLicenseStatusCmd() *cobra.Command {
	var serverURL, token string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the server's current license snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newAdminClient(serverURL, token).do(http.MethodGet, "/admin/license/status", nil)
			if err != nil {
				return err
			}
			printJSON(body)
			return nil
		},
	}
	addServerFlags(cmd, &serverURL, &token)
	return cmd
}

func newSubscriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscription",
		Aliases: []string{"sub"},
		Short:   "Manage tenant subscriptions",
	}
	cmd.AddCommand(
		newSubscriptionAssignCmd(),
		newSubscriptionCancelCmd(),
		newSubscriptionReportCmd(),
	)
	return cmd
}

func newSubscriptionAssignCmd() *cobra.Command {
	var (
		serverURL, token string
		tenantID, planID string
		start, end       string
		status           string
	)

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a plan to a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"tenantId": tenantID,
				"planId":   planID,
			}
			if start != "" {
				req["periodStart"] = start
			}
			if end != "" {
				req["periodEnd"] = end
			}
			if status != "" {
				req["status"] = status
			}

			body, err := newAdminClient(serverURL, token).do(http.MethodPost, "/admin/subscriptions/assign", req)
			if err != nil {
				return err
			}
			printJSON(body)
			return nil
		},
	}

	addServerFlags(cmd, &serverURL, &token)
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&planID, "plan", "", "Plan ID (required)")
	cmd.Flags().StringVar(&start, "start", "", "Period start, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&end, "end", "", "Period end, YYYY-MM-DD (default open-ended)")
	cmd.Flags().StringVar(&status, "status", "", "Subscription status (default active)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("plan")

	return cmd
}

func newSubscriptionCancelCmd() *cobra.Command {
	var serverURL, token string

	cmd := &cobra.Command{
		Use:   "cancel <subscription-id>",
		Short: "Cancel a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(args[0]); err != nil {
				return fmt.Errorf("invalid subscription id %q", args[0])
			}
			_, err := newAdminClient(serverURL, token).do(http.MethodPost, "/admin/subscriptions/"+args[0]+"/cancel", nil)
			if err != nil {
				return err
			}
			fmt.Println("Subscription canceled")
			return nil
		},
	}
	addServerFlags(cmd, &serverURL, &token)
	return cmd
}

func newSubscriptionReportCmd() *cobra.Command {
	var serverURL, token string

	cmd := &cobra.Command{
		Use:   "report <tenant-id>",
		Short: "Show a tenant's subscriptions and feature limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(args[0]); err != nil {
				return fmt.Errorf("invalid tenant id %q", args[0])
			}
			body, err := newAdminClient(serverURL, token).do(http.MethodGet, "/admin/subscriptions/"+args[0], nil)
			if err != nil {
				return err
			}
			printJSON(body)
			return nil
		},
	}
	addServerFlags(cmd, &serverURL, &token)
	return cmd
}
