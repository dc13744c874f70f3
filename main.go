// Copyright 2026 The PoiMatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/jcodagnone/poimatch/cmd"
)

var Version = "development"

func main() {
	cmd.Execute(Version)
}
