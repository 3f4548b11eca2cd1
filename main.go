// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package main

import "github.com/tidebridge/relay/cmd"

func main() {
	cmd.Execute()
}
