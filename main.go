package main

import "github.com/fakeyudi/tslive/cmd"

func main() {
	cmd.Execute()
}
