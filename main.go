package main

import "github.com/qobs-build/mcubuild/cmd"

func main() {
	cmd.Execute()
}
