package main

import "github.com/xyl2024/Mini-Agent-Web/cmd"

func main() {
	cmd.Execute()
}
