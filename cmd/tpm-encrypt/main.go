package main

import (
	"os"

	"github.com/quantumauth-io/tpm-encrypt/errs"
)

func main() {
	root, a := newRootCmd(defaultServiceFactory)
	err := root.Execute()
	a.teardown()

	switch {
	case err == nil:
	case errs.IsFatal(err):
		os.Exit(2)
	default:
		os.Exit(1)
	}
}
