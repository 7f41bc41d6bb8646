package main

import "sensoretl/cmd"

func main() {
	cmd.Execute()
}
