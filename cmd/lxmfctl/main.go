// Command lxmfctl is the operator CLI for a running lxmfd daemon: it
// drives the same RPC methods the HTTP surface exposes, one subcommand
// per method.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rpcAddr string

var rootCmd = &cobra.Command{Use: "lxmfctl", Short: "operate a lxmfd runtime over its RPC surface"}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "negotiate and start the runtime",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, _ := cmd.Flags().GetString("profile")
		bindMode, _ := cmd.Flags().GetString("bind-mode")
		authMode, _ := cmd.Flags().GetString("auth-mode")
		result, err := call(rpcAddr, "start", map[string]interface{}{
			"supported_contract_versions": []interface{}{1},
			"profile":                     profile,
			"bind_mode":                   bindMode,
			"auth_mode":                   authMode,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "runtime_id=%v active_contract_version=%v\n", result["runtime_id"], result["active_contract_version"])
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <source_hex> <destination_hex> <content>",
	Short: "send a message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		method, _ := cmd.Flags().GetString("method")
		idempotencyKey, _ := cmd.Flags().GetString("idempotency-key")
		result, err := call(rpcAddr, "send", map[string]interface{}{
			"source":          args[0],
			"destination":     args[1],
			"content":         []byte(args[2]),
			"method":          method,
			"idempotency_key": idempotencyKey,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "message_id=%v method=%v\n", result["message_id"], result["method"])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <message_id>",
	Short: "show a message's delivery status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := call(rpcAddr, "status", map[string]interface{}{"message_id": args[0]})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "status=%v raw_status=%v\n", result["status"], result["raw_status"])
		return nil
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "poll the runtime's event stream",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cursor, _ := cmd.Flags().GetString("cursor")
		max, _ := cmd.Flags().GetInt("max")
		result, err := call(rpcAddr, "poll_events", map[string]interface{}{"cursor": cursor, "max": max})
		if err != nil {
			return err
		}
		events, _ := result["events"].([]interface{})
		for _, e := range events {
			fmt.Fprintf(cmd.OutOrStdout(), "%v\n", e)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "next_cursor=%v dropped_count=%v\n", result["next_cursor"], result["dropped_count"])
		return nil
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure <expected_revision> <key> <value>",
	Short: "apply a config patch under compare-and-swap",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var expectedRevision int
		if _, err := fmt.Sscanf(args[0], "%d", &expectedRevision); err != nil {
			return fmt.Errorf("invalid expected_revision %q: %w", args[0], err)
		}
		result, err := call(rpcAddr, "configure", map[string]interface{}{
			"expected_revision": expectedRevision,
			"patch":             map[string]interface{}{args[1]: args[2]},
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revision=%v\n", result["revision"])
		return nil
	},
}

var propagateCmd = &cobra.Command{
	Use:   "propagate",
	Short: "show the current propagation sync state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := call(rpcAddr, "snapshot", nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "propagation_state=%v\n", result["propagation_state"])
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <message_id>",
	Short: "cancel a queued or in-flight send",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := call(rpcAddr, "cancel", map[string]interface{}{"message_id": args[0]})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "outcome=%v\n", result["outcome"])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rpcAddr, "addr", "127.0.0.1:8723", "lxmfd RPC listen address")

	startCmd.Flags().String("profile", "desktop-full", "negotiated profile")
	startCmd.Flags().String("bind-mode", "local_only", "rpc bind mode")
	startCmd.Flags().String("auth-mode", "local_trusted", "auth mode")

	sendCmd.Flags().String("method", "auto", "delivery method: auto, direct, opportunistic, propagated")
	sendCmd.Flags().String("idempotency-key", "", "idempotency key for duplicate-send suppression")

	pollCmd.Flags().String("cursor", "", "resume cursor from a previous poll")
	pollCmd.Flags().Int("max", 32, "maximum events to return")

	rootCmd.AddCommand(startCmd, sendCmd, statusCmd, pollCmd, configureCmd, propagateCmd, cancelCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
