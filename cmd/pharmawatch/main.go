package main

import (
	"os"

	"github.com/halcyonbio/pharmawatch/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
