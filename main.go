package main

import "github.com/llmgate/toolgate/cmd"

func main() {
	cmd.Execute()
}
