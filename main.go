package main

import "github.com/faceless-tools/faceless/cmd"

func main() {
	cmd.Execute()
}
