package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEncryptCmd(a *app) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "encrypt <src> <dst>",
		Short: "Encrypt a file under a new key sealed for --ref",
		Long: `Generate and seal a fresh key for the reference, then encrypt src into dst.
Any key previously sealed for the same reference is replaced.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.svc.EncryptFile(cmd.Context(), args[0], args[1], ref); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "encrypted %s -> %s (key reference %q)\n", args[0], args[1], ref)
			return nil
		},
	}
	cmd.Flags().StringVarP(&ref, "ref", "r", "", "key reference, needed again to decrypt")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newDecryptCmd(a *app) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "decrypt <src> <dst>",
		Short: "Decrypt a file with the key sealed for --ref",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.svc.DecryptFile(cmd.Context(), args[0], args[1], ref); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "decrypted %s -> %s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVarP(&ref, "ref", "r", "", "key reference used at encryption time")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the sealed key and IV of --ref",
		Long:  `Delete the key material sealed for a reference. Files encrypted under it become unrecoverable.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.svc.DeleteKey(cmd.Context(), ref); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted key reference %q\n", ref)
			return nil
		},
	}
	cmd.Flags().StringVarP(&ref, "ref", "r", "", "key reference to delete")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newWipeCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete all sealed data and the storage root key",
		Long: `Delete every sealed key, evict the storage root key and remove the provisioning marker.
This is irreversible; every file encrypted by this tool becomes unrecoverable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to wipe without --yes")
			}
			if err := a.svc.WipeAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all TPM data deleted")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the wipe")
	return cmd
}
