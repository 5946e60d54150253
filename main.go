package main

import "github.com/markb/pgcall/cmd"

func main() {
	cmd.Execute()
}
