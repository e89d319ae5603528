// SPDX-License-Identifier: Apache-2.0
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"

	"dexopt/internal/asm"
	"dexopt/internal/cfg"
	"dexopt/internal/config"
	"dexopt/internal/dex"
	"dexopt/internal/ir"
	"dexopt/internal/passes"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON pass configuration")
	verbose := flag.Bool("v", false, "enable debug logging")
	dump := flag.Bool("dump", false, "print each method CFG after checking")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: dexopt [-config cfg.json] [-v] [-dump] <file.dasm>...")
		os.Exit(1)
	}

	if *verbose {
		commonlog.Configure(1, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	startTime := time.Now()

	bag := config.New(nil)
	if *configPath != "" {
		var err error
		bag, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	reg := dex.NewRegistry()
	object := dex.NewClass(reg.MakeType("Ljava/lang/Object;"), nil, dex.AccPublic)
	reg.RegisterClass(object)
	scope := []*dex.Class{object}

	hasErrors := false
	for n, path := range flag.Args() {
		method, err := assembleFixture(reg, path, n)
		if err != nil {
			color.Red("%s: %v", path, err)
			hasErrors = true
			continue
		}
		scope = append(scope, reg.ClassOf(method.Owner()))

		g := cfg.Build(method.Code().(*ir.Code), method.String(), false)
		if errs := g.Check(); len(errs) > 0 {
			color.Red("%s: control flow is malformed:", path)
			for _, cerr := range errs {
				fmt.Fprintf(os.Stderr, "  %v\n", cerr)
			}
			hasErrors = true
		} else if *dump {
			g.Dump(os.Stdout, !color.NoColor)
		}
		g.ClearCFG()
	}

	if !hasErrors {
		mgr := passes.NewManager(reg, bag)
		mgr.Register(&passes.SingleImplPass{})
		scope = mgr.Run(scope)

		for _, m := range mgr.Metrics() {
			fmt.Printf("%s = %d\n", m.Name, m.Value)
		}
	}

	duration := formatDuration(time.Since(startTime))
	if hasErrors {
		color.Red("Failed after %s", duration)
		os.Exit(1)
	}
	color.Green("Processed %d file(s) in %s", flag.NArg(), duration)
}

// assembleFixture wraps one assembly file into a synthetic static method so
// the pass pipeline has a scope to chew on.
func assembleFixture(reg *dex.Registry, path string, n int) (*dex.MethodRef, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	code, err := asm.Assemble(reg, string(source))
	if err != nil {
		return nil, err
	}

	owner := dex.NewClass(reg.MakeType(fmt.Sprintf("LFixture%d;", n)), reg.MakeType("Ljava/lang/Object;"), dex.AccPublic)
	reg.RegisterClass(owner)
	proto, err := reg.ParseProto("()V")
	if err != nil {
		return nil, err
	}
	method := reg.MakeMethod(owner.Type(), reg.MakeString("main"), proto)
	if err := method.MakeConcrete(dex.AccPublic|dex.AccStatic, code, false); err != nil {
		return nil, err
	}
	owner.AddMethod(method)
	return method, nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return fmt.Sprintf("%.2fmin", d.Minutes())
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1000000.0)
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}
