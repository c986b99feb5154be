// Command codecrawler is the autonomous codebase maintenance engine's
// entry point: crawl, status, and watch, per SPEC_FULL.md's CLI
// surface section.
package main

import (
	"os"

	"github.com/codekeeper/crawler/internal/cli"
)

func main() {
	os.Exit(cli.New().Execute())
}
