package main

import "github.com/kozaktomas/facecheck/cmd"

func main() {
	cmd.Execute()
}
