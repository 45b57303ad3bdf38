package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantumauth-io/tpm-encrypt/errs"
)

const menuText = `TPM-Encrypt:
1. Encrypt a file
2. Decrypt a file
3. Delete associated TPM data
4. Delete **all** TPM data
5. Exit
Enter your choice: `

func newMenuCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Interactive menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMenu(cmd.Context(), a.svc, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// runMenu loops until exit or end of input. Operation failures are reported and the loop
// continues; fatal errors end it.
func runMenu(ctx context.Context, svc service, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	ask := func(prompt string) (string, bool) {
		fmt.Fprint(out, prompt)
		if !sc.Scan() {
			return "", false
		}
		return strings.TrimSpace(sc.Text()), true
	}

	for {
		choice, ok := ask(menuText)
		if !ok {
			return sc.Err()
		}

		var err error
		switch choice {
		case "1":
			src, _ := ask("Enter the path of the file to encrypt: ")
			dst, _ := ask("Enter the path of the encrypted output file: ")
			ref, _ := ask("Enter the key reference (used to decrypt the file later): ")
			if err = svc.EncryptFile(ctx, src, dst, ref); err == nil {
				fmt.Fprintln(out, "Encrypted.")
			}
		case "2":
			src, _ := ask("Enter the path of the file to decrypt: ")
			dst, _ := ask("Enter the path of the plaintext output file: ")
			ref, _ := ask("Enter the key reference (used to decrypt the file): ")
			if err = svc.DecryptFile(ctx, src, dst, ref); err == nil {
				fmt.Fprintln(out, "Decrypted.")
			}
		case "3":
			ref, _ := ask("Enter the key reference to delete: ")
			if err = svc.DeleteKey(ctx, ref); err == nil {
				fmt.Fprintln(out, "Key data deleted.")
			}
		case "4":
			confirm, _ := ask("This deletes every sealed key. Type 'yes' to continue: ")
			if confirm != "yes" {
				fmt.Fprintln(out, "Cancelled.")
				continue
			}
			if err = svc.WipeAll(ctx); err == nil {
				fmt.Fprintln(out, "All TPM data deleted.")
			}
		case "5":
			fmt.Fprintln(out, "Exiting...")
			return nil
		default:
			fmt.Fprintln(out, "Invalid choice. Please try again.")
			continue
		}

		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			if errs.IsFatal(err) {
				return err
			}
		}
	}
}
