package main

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/fileflow/internal/ctl"
)

func main() {
	if err := ctl.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
