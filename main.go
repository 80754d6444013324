package main

import (
	"github.com/sidkik/wikisync/cmd"
	"github.com/sidkik/wikisync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
