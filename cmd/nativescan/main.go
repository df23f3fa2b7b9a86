package main

import "github.com/MeKo-Tech/nativescan/cmd/nativescan/cmd"

func main() {
	cmd.Execute()
}
