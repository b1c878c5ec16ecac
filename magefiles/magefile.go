//go:build mage

// Tools for building and maintaining Tandem.
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var binaries = []string{"peer", "tandemctl"}

// Vets every package.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Runs all tests.
// Tests are run with -race.
func Test() error {
	_, err := sh.Exec(nil, os.Stdout, os.Stderr, "go", "test", "./...", "-race", "-count=1")
	return err
}

// Compiles the peer and tandemctl binaries into bin/.
func Build() error {
	mg.Deps(Vet)
	for _, b := range binaries {
		if err := sh.RunV("go", "build", "-o", filepath.Join("bin", b), "./"+b); err != nil {
			return err
		}
	}
	return nil
}

// Removes build artifacts.
func Clean() error {
	return sh.Rm("bin")
}
