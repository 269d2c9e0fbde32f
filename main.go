package main

import "github.com/iksnae/yeschef-session/cmd"

func main() {
	cmd.Execute()
}
