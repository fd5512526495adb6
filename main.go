package main

import "github.com/contextforge/rulegraph/cmd"

func main() {
	cmd.Execute()
}
