package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/arch/arm64/arm64asm"

	"github.com/spf13/cobra"

	"github.com/javabridge/javabridge/internal/bridge"
	"github.com/javabridge/javabridge/internal/control"
	glog "github.com/javabridge/javabridge/internal/jlog"
	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/jnitype"
	"github.com/javabridge/javabridge/internal/script"
	"github.com/javabridge/javabridge/internal/trace"
	"github.com/javabridge/javabridge/internal/ui"
	"github.com/javabridge/javabridge/internal/ui/colorize"
	"github.com/javabridge/javabridge/internal/vm"
)

var (
	verbose bool
	listen  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "javabridge",
		Short: "In-process instrumentation core for Dalvik/ART Java processes",
		Long: `javabridge exposes the Java class graph of a running Dalvik/ART process to
a JavaScript scripting agent: class resolution, member discovery, instance
construction, field access, method invocation, method hooking, and heap
enumeration.

A production embedder links internal/jnienv.Env/Api against a real attached
process (cgo against libnativehelper/ART internals). Without one, every
subcommand here runs against the repository's own emulator-backed fixture
environment (internal/vm), which is enough to drive the class graph,
hooking engine, and heap enumerator end to end for exploration and testing.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			glog.Init(verbose)
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug logging")

	replCmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive scripting REPL",
		RunE:  runRepl,
	}

	runCmd := &cobra.Command{
		Use:   "run <script.js>",
		Short: "Evaluate a script file against the fixture environment and print the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runScript,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the script surface over a websocket (spec 4.I)",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVarP(&listen, "listen", "l", ":8080", "address to listen on")

	trampolineCmd := &cobra.Command{
		Use:   "trampoline <class> <method>",
		Short: "Disassemble an installed hook's trampoline",
		Args:  cobra.ExactArgs(2),
		RunE:  runTrampoline,
	}

	rootCmd.AddCommand(replCmd, runCmd, serveCmd, trampolineCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newFixtureBridge builds a bridge.Context over the emulator-backed fixture
// environment, seeded with a couple of example classes so the CLI has
// something to resolve without a real process attached.
func newFixtureBridge() (*bridge.Context, *vm.Emulator, error) {
	emu, err := vm.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create emulator: %w", err)
	}

	env := vm.NewFakeEnv(emu)
	api := vm.NewFakeApi(emu, jnienv.FlavorArt)

	str := env.DefineClass("java.lang.String")
	str.Method("length", false, false, "int", nil, func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
		return jnienv.Value{Prim: jnienv.TypeInt, I64: 0}, nil
	})

	counter := env.DefineClass("com.example.Counter")
	counter.Field("n", false, "int", jnienv.TypeInt, jnienv.Value{Prim: jnienv.TypeInt, I64: 0})
	counter.Constructor(false, nil, func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
		return jnienv.Value{}, nil
	})

	sink := trace.NewSink(1024)
	br := bridge.New(env, api, jnitype.Default(), bridge.WithTraceSink(sink))
	return br, emu, nil
}

func runRepl(cmd *cobra.Command, args []string) error {
	br, emu, err := newFixtureBridge()
	if err != nil {
		return err
	}
	defer emu.Close()

	host := script.New(context.Background(), br)
	return ui.Run(host, br.Trace)
}

func runScript(cmd *cobra.Command, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	br, emu, err := newFixtureBridge()
	if err != nil {
		return err
	}
	defer emu.Close()

	host := script.New(context.Background(), br)
	result, err := host.RunString(string(src))
	if err != nil {
		fmt.Fprintln(os.Stderr, colorize.Error(err.Error()))
		return err
	}
	fmt.Printf("%v\n", result)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	srv := control.NewServer(func() (*bridge.Context, error) {
		br, _, err := newFixtureBridge()
		return br, err
	})

	fmt.Printf("%s listening on %s\n", colorize.Header("javabridge"), listen)
	http.Handle("/control", srv.Handler())
	return http.ListenAndServe(listen, nil)
}

func runTrampoline(cmd *cobra.Command, args []string) error {
	className, methodName := args[0], args[1]

	br, emu, err := newFixtureBridge()
	if err != nil {
		return err
	}
	defer emu.Close()

	w, err := br.Use(context.Background(), className)
	if err != nil {
		return fmt.Errorf("resolve class %s: %w", className, err)
	}

	prop, err := w.Property(context.Background(), methodName)
	if err != nil || prop.Group == nil {
		return fmt.Errorf("no method named %s on %s", methodName, className)
	}
	overloads := prop.Group.Overloads
	if len(overloads) == 0 {
		return fmt.Errorf("no overloads for %s.%s", className, methodName)
	}
	method := overloads[0]

	if err := method.SetImplementation(func(ctx context.Context, this uint64, a []any) (any, error) {
		return nil, nil
	}); err != nil {
		return fmt.Errorf("install hook: %w", err)
	}

	addr, ok := br.Factory.Engine.TrampolineAddr(method.ID)
	if !ok {
		return fmt.Errorf("no trampoline installed for %s.%s", className, methodName)
	}

	code, err := emu.MemRead(addr, 64)
	if err != nil {
		return fmt.Errorf("read trampoline memory: %w", err)
	}

	fmt.Printf("%s %s.%s @ %s\n", colorize.Header("trampoline"), className, methodName, colorize.Address(addr))
	offset := 0
	for offset+4 <= len(code) {
		inst, err := arm64asm.Decode(code[offset:])
		if err != nil {
			fmt.Printf("  %s  %s\n", colorize.Address(addr+uint64(offset)), colorize.Error(".word (undecodable)"))
			offset += 4
			continue
		}
		fmt.Printf("  %s  %s\n", colorize.Address(addr+uint64(offset)), inst.String())
		offset += 4
	}
	return nil
}
