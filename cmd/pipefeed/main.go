package main

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/GriffinCanCode/pipefeed/internal/cli"
)

func main() {
	err := cli.Execute(context.Background(), os.Args[1:])
	if err == nil {
		return
	}

	msg := strings.Join(strings.Fields(err.Error()), " ")
	if msg == "" {
		msg = "error"
	}
	_, _ = os.Stderr.WriteString("pipefeed: " + msg + "\n")

	code := 1
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() != 0 {
		code = exitErr.ExitCode()
	}
	os.Exit(code)
}
