package main

import "github.com/andresmejia3/moodtrace/cmd"

func main() {
	cmd.Execute()
}
