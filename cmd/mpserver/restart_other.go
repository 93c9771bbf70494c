//go:build !unix

package main

import (
	"os"
	"os/exec"
)

// reexec starts a new copy of the server and lets this one exit
func reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Start()
}
