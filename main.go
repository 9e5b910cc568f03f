package main

import "fuelwatcher/internal/cli"

func main() {
	cli.Execute()
}
