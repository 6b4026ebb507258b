package main

import "github.com/shopsheet/shopsheet/cmd"

func main() {
	cmd.Execute()
}
