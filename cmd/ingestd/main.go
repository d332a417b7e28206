package main

import (
	"github.com/JakeFAU/url-ingest/cmd"
)

func main() {
	cmd.Execute()
}
