package main

import "github.com/balaji-balu/converge/cmd/convergectl/cmd"

func main() {
	cmd.Execute()
}
