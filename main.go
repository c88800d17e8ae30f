package main

import (
	"github.com/visiscope/visiscope/cmd"
)

func main() {
	cmd.Execute()
}
