package main

import (
	"github.com/alemelgarejo/docker-database-manager/internal/adapters/in/cli"
)

var (
	version string
	commit  string
	date    string
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	cli.Main()
}
