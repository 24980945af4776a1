package main

import (
	"github.com/luma/tether/cmd"
)

func main() {
	cmd.Execute()
}
