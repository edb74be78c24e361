package main

import (
	"os"

	semsearchcmder "github.com/papercomputeco/semsearch/cmd/semsearch"
)

func main() {
	cmd := semsearchcmder.NewSemsearchCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
