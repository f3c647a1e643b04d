// Command-line code generation for git-derived version information.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var (
	// Name of file to output with Go version code
	outputfile = flag.String("o", "", "")

	// Display usage if true.
	showHelp = flag.Bool("help", false, "")
)

const helpMessage = `
ndv-gen-version calls git to generate Go code with source code version info.

Usage: ndv-gen-version -o version.go

      -h, -help   (flag)    Show help message

`

const code = `// Code generated by ndv-gen-version. DO NOT EDIT.

package server

func init() {
	gitVersion = %q
}
`

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = func() {
		fmt.Print(helpMessage)
	}
	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if len(*outputfile) < 4 {
		fmt.Printf("The %q is required for this program\n", "-o foo.go")
		os.Exit(1)
	}

	versionID := "notag"
	if gitPath, err := exec.LookPath("git"); err != nil {
		fmt.Printf("Unable to find git command, using %q: %v\n", versionID, err)
	} else if out, err := exec.Command(gitPath, "describe", "--abbrev=5", "--tags", "--always").Output(); err == nil {
		versionID = strings.TrimSpace(string(out))
	}

	goCode := fmt.Sprintf(code, versionID)
	if err := os.WriteFile(*outputfile, []byte(goCode), 0644); err != nil {
		fmt.Printf("Error saving go code: %v\n", err)
		os.Exit(1)
	}
}
