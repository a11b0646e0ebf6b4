package main

import (
	"github.com/exotica-tools/exomirror/cmd"
)

func main() {
	cmd.Execute()
}
