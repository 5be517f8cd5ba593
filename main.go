package main

import (
	"errors"
	"os"

	"github.com/rowmark/rowmark/internal/sync"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Verification drift already printed its report; exit non-zero
		// without the Error: banner.
		if errors.Is(err, sync.ErrDriftFound) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
