package main

import (
	"github.com/maxgio92/crashenv/pkg/cmd"
)

func main() {
	cmd.Execute()
}
