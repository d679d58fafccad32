package main

import (
	cmd "github.com/cozy-creator/lineage-server/cmd/lineage"
)

func main() {
	cmd.Execute()
}
