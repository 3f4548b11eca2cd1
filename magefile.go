//go:build mage
// +build mage

package main

import (
	"github.com/magefile/mage/sh"
)

func Build() error {
	return sh.Run("go", "build", "-o", "build/tidebridge-relay", "main.go")
}

func Test() error {
	return sh.RunV("go", "test", "./...")
}

func Install() error {
	return sh.Run("go", "build", "-o", "$GOPATH/bin/tidebridge-relay", "main.go")
}
