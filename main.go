package main

import "github.com/skiffworks/skiff/cmd"

func main() {
	cmd.Execute()
}
