package main

import "github.com/NamanBalaji/gdl/cmd"

func main() {
	cmd.Execute()
}
