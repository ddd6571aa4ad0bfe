package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"

	"loxy-vm/internal/compiler"
	"loxy-vm/internal/heap"
	"loxy-vm/internal/lexer"
	"loxy-vm/internal/vm"
)

const Version = "v1.0.0"

// The interpreter exits 64 on every path; callers distinguish outcomes by
// stderr, not by code.
const exitCode = 64

func main() {
	showDisassembly := flag.Bool("disassembly", false, "Show bytecode disassembly before running")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	// Custom Usage to show double dashes
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: loxy [options] [script]\n\nOptions:\n")
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  --%s\n\t%s\n", f.Name, f.Usage)
		})
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(exitCode)
	}
	if *showVersion {
		fmt.Printf("Loxy %s\n", Version)
		os.Exit(exitCode)
	}

	cfg, err := vm.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad configuration: %s\n", err)
		os.Exit(exitCode)
	}

	h := heap.New()
	machine := vm.New(h, cfg)

	args := flag.Args()
	switch len(args) {
	case 0:
		runREPL(machine, h, *showDisassembly)
	case 1:
		runFile(args[0], machine, h, *showDisassembly)
	default:
		flag.Usage()
	}
	os.Exit(exitCode)
}

func runFile(filename string, machine *vm.VM, h *heap.Heap, disasm bool) {
	content, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %s\n", err)
		os.Exit(exitCode)
	}
	runSource(string(content), machine, h, disasm)
}

func runSource(source string, machine *vm.VM, h *heap.Heap, disasm bool) {
	tokens, err := lexer.New(source).Tokenize()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}

	fnAddr, err := compiler.New(tokens, h).Compile()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}

	if disasm {
		h.DisassembleFunction(os.Stderr, fnAddr)
	}

	if err := machine.Interpret(fnAddr); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

// runREPL reads a unit per line; a trailing backslash continues the unit on
// the next line and exit() leaves. Every completed unit runs on the same VM
// so globals persist.
func runREPL(machine *vm.VM, h *heap.Heap, disasm bool) {
	tty := isatty.IsTerminal(os.Stdin.Fd())
	if tty {
		fmt.Printf("Loxy REPL %s\n", Version)
		fmt.Println("Type 'exit()' to quit.")
	}

	rl, err := readline.New(">>> ")
	if !tty || err != nil {
		if rl != nil {
			rl.Close()
		}
		replScanner(machine, h, disasm)
		return
	}
	defer rl.Close()

	var buffer string
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			buffer = ""
			rl.SetPrompt(">>> ")
			continue
		}
		if err == io.EOF || err != nil {
			return
		}

		done, quit := feedLine(&buffer, line, machine, h, disasm)
		if quit {
			return
		}
		if done {
			rl.SetPrompt(">>> ")
		} else {
			rl.SetPrompt("... ")
		}
	}
}

func replScanner(machine *vm.VM, h *heap.Heap, disasm bool) {
	scanner := bufio.NewScanner(os.Stdin)
	var buffer string
	for scanner.Scan() {
		_, quit := feedLine(&buffer, scanner.Text(), machine, h, disasm)
		if quit {
			return
		}
	}
	// Run whatever an unterminated continuation left behind.
	if buffer != "" {
		runSource(buffer, machine, h, disasm)
	}
}

// feedLine buffers one input line. It reports whether the unit completed
// (ran or was empty) and whether the REPL should quit.
func feedLine(buffer *string, line string, machine *vm.VM, h *heap.Heap, disasm bool) (done, quit bool) {
	if *buffer == "" && strings.TrimSpace(line) == "exit()" {
		return true, true
	}

	if strings.HasSuffix(line, "\\") {
		*buffer += strings.TrimSuffix(line, "\\") + "\n"
		return false, false
	}

	source := *buffer + line
	*buffer = ""
	if strings.TrimSpace(source) == "" {
		return true, false
	}
	runSource(source, machine, h, disasm)
	return true, false
}
