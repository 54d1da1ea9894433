// SPDX-License-Identifier: MPL-2.0

package main

import "github.com/dirvine/saorsa-cli/cmd/saorsa"

func main() {
	cmd.Execute()
}
