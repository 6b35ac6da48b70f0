package main

import (
	"github.com/dreamerjackson/devcat/cmd"
)

func main() {
	cmd.Execute()
}
