package main

import "CalmFM/cmd"

func main() {
	cmd.Execute()
}
