// Command as4send transmits one business document to an AS4 access point
// and prints the receipt.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
