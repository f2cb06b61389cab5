package main

import "github.com/tealigantal/gp/cmd/gpsync/cmd"

func main() {
	cmd.Execute()
}
