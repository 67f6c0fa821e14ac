package main

import "github.com/jjenkins/lovforslag/cmd"

func main() {
	cmd.Execute()
}
