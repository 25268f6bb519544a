package main

import "docflow/cmd"

func main() {
	cmd.Execute()
}
