package main

import "github.com/vulndb-tools/vdbctl/cmd"

func main() {
	cmd.Execute()
}
