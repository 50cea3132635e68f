// Package main is the PriceKeeper CLI.
//
// Usage:
//
//	pricekeeper update
//	pricekeeper run
package main

import (
	"os"

	"PriceKeeper/cmd/pricekeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
