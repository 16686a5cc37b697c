// Command wren runs a script file against the embeddable VM. It wires
// a filesystem module loader (imports resolve relative to the script's
// own directory) and a stderr error printer, the same role
// clarete-langlang/cmd/langlang/main.go plays for that project's
// grammar compiler — it carries no logic of its own, the VM in the
// root package does all the work.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	wren "github.com/truehaley/wren"
)

func main() {
	var (
		scriptPath = flag.String("script", "", "Path to the script file to run")
		gcStress   = flag.Bool("gc-stress", false, "Set the gc.stress tunable (the VM never triggers a collection on its own, so a run is unaffected)")
	)
	flag.Parse()

	if *scriptPath == "" && flag.NArg() > 0 {
		*scriptPath = flag.Arg(0)
	}
	if *scriptPath == "" {
		fmt.Fprintln(os.Stderr, "usage: wren <script.wren>")
		os.Exit(64)
	}

	source, err := os.ReadFile(*scriptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "can't read script: %s\n", err)
		os.Exit(66)
	}

	scriptDir := filepath.Dir(*scriptPath)
	tunables := wren.NewTunables()
	tunables.SetBool("gc.stress", *gcStress)

	config := &wren.Configuration{
		Tunables: tunables,
		Write: func(vm *wren.VM, text string) {
			fmt.Print(text)
		},
		Error: func(vm *wren.VM, kind wren.ErrorKind, module string, line int, message string) {
			switch kind {
			case wren.ErrorCompile:
				fmt.Fprintf(os.Stderr, "%s:%d: Error: %s\n", module, line, message)
			case wren.ErrorRuntime:
				fmt.Fprintf(os.Stderr, "Runtime Error: %s\n", message)
			case wren.ErrorStackTrace:
				fmt.Fprintf(os.Stderr, "  at %s:%d (%s)\n", module, line, message)
			}
		},
		LoadModule: func(name string) (string, func(), bool) {
			path := filepath.Join(scriptDir, name+".wren")
			data, err := os.ReadFile(path)
			if err != nil {
				return "", nil, false
			}
			return string(data), nil, true
		},
	}

	vm := wren.NewVM(config)

	if err := vm.Interpret(*scriptPath, string(source)); err != nil {
		os.Exit(70)
	}
}
