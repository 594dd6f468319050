package main

import "github.com/OpenTraceLab/OpenTraceFuzz/cmd/otfuzz/cmd"

func main() {
	cmd.Execute()
}
