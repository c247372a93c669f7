// Package main implements libreeyectl, the control utility for a running
// libreeye daemon. It speaks the §6 control-socket protocol: one JSON
// object per request/reply, each framed by a trailing null byte.
//
// Usage:
//
//	libreeyectl camera ls
//	libreeyectl camera start <name>
//	libreeyectl camera stop <name>
//	libreeyectl gc run
//	libreeyectl diagnose [-quick] [-json]
//	libreeyectl menu
//
// Reference: original_source/src/libreeye/main.py's camera_actions,
// including its errno.ESRCH exit code when the daemon is unreachable and
// errno.EINVAL when a required camera id is missing.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"time"

	"github.com/chponte/libreeye/internal/config"
	"github.com/chponte/libreeye/internal/diagnostics"
	"github.com/chponte/libreeye/internal/menu"
)

const (
	exitOK     = 0
	exitESRCH  = 3  // no such process: the daemon is not listening
	exitEINVAL = 22 // invalid argument: required id missing
)

var socketPath = flag.String("socket", "", "Path to the control socket (default: "+config.DefaultConfigRoot+"'s configured control_socket)")

func main() {
	flag.Usage = printUsage
	flag.Parse()
	args := flag.Args()

	path := resolveSocketPath()

	if len(args) == 0 {
		runMenu(path)
		return
	}

	switch args[0] {
	case "camera":
		cameraCommand(path, args[1:])
	case "gc":
		gcCommand(path, args[1:])
	case "diagnose":
		diagnoseCommand(args[1:])
	case "menu":
		runMenu(path)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "libreeyectl: unknown object %q\n", args[0])
		printUsage()
		os.Exit(exitEINVAL)
	}
}

// resolveSocketPath honors -socket, then falls back to loading
// libreeye.conf so the control utility talks to the same socket the
// running daemon actually bound, without requiring the operator to repeat
// the path on every invocation.
func resolveSocketPath() string {
	if *socketPath != "" {
		return *socketPath
	}
	cfg, err := config.LoadConfig(config.DefaultConfigRoot)
	if err != nil {
		return config.DefaultConfig().ControlSocket
	}
	return cfg.ControlSocket
}

func cameraCommand(path string, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "camera requires an action: ls, start, stop")
		os.Exit(exitEINVAL)
	}
	action := args[0]
	var id string
	if len(args) > 1 {
		id = args[1]
	}

	switch action {
	case "ls":
		reply, err := exchange(path, controlRequest{Object: "camera", Action: "ls"})
		if err != nil {
			fail(err)
		}
		printCameraList(reply)
	case "start":
		if id == "" {
			fmt.Fprintln(os.Stderr, "start requires a camera id")
			os.Exit(exitEINVAL)
		}
		if err := send(path, controlRequest{Object: "camera", Action: "start", ID: id}); err != nil {
			fail(err)
		}
		fmt.Printf("start requested for %s\n", id)
	case "stop":
		if id == "" {
			fmt.Fprintln(os.Stderr, "stop requires a camera id")
			os.Exit(exitEINVAL)
		}
		reply, err := exchange(path, controlRequest{Object: "camera", Action: "stop", ID: id})
		if err != nil {
			fail(err)
		}
		fmt.Printf("camera terminated with code %v\n", reply["exitcode"])
	default:
		fmt.Fprintf(os.Stderr, "camera: unknown action %q\n", action)
		os.Exit(exitEINVAL)
	}
}

func gcCommand(path string, args []string) {
	if len(args) == 0 || args[0] != "run" {
		fmt.Fprintln(os.Stderr, "gc requires an action: run")
		os.Exit(exitEINVAL)
	}
	reply, err := exchange(path, controlRequest{Object: "gc", Action: "run"})
	if err != nil {
		fail(err)
	}
	fmt.Printf("retention sweep finished with code %v\n", reply["exitcode"])
}

// diagnoseCommand runs internal/diagnostics against the local configuration
// and host, independent of whether the daemon is currently reachable —
// useful to debug exactly why the daemon won't come up.
func diagnoseCommand(args []string) {
	fs := flag.NewFlagSet("diagnose", flag.ExitOnError)
	quick := fs.Bool("quick", false, "run only the essential checks")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	root := fs.String("config-root", config.DefaultConfigRoot, "configuration root to diagnose")
	_ = fs.Parse(args)

	mode := diagnostics.ModeFull
	if *quick {
		mode = diagnostics.ModeQuick
	}

	healthy, err := runDiagnostics(*root, mode, *asJSON, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !healthy {
		os.Exit(1)
	}
}

// runDiagnostics is the shared core behind both the "diagnose" CLI command
// and the interactive menu entry, so a failing report never exits a
// long-lived menu session out from under the operator.
func runDiagnostics(root string, mode diagnostics.CheckMode, asJSON bool, w io.Writer) (bool, error) {
	opts := diagnostics.DefaultOptions()
	opts.ConfigRoot = root
	opts.Mode = mode

	runner := diagnostics.NewRunner(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	report, err := runner.Run(ctx)
	if err != nil {
		return false, err
	}

	if asJSON {
		data, err := report.ToJSON()
		if err != nil {
			return false, err
		}
		fmt.Fprintln(w, string(data))
	} else {
		diagnostics.PrintReport(w, report)
	}

	return report.Healthy, nil
}

func printCameraList(reply map[string]any) {
	names := make([]string, 0, len(reply))
	for name := range reply {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		status, _ := reply[name].(map[string]any)
		active, _ := status["active"].(bool)
		state := "stopped"
		if active {
			state = "running"
		}
		fmt.Printf("%-24s %s\n", name, state)
	}
}

func fail(err error) {
	var opErr *net.OpError
	if os.IsNotExist(err) || errors.As(err, &opErr) {
		fmt.Fprintln(os.Stderr, "could not connect to the daemon")
		os.Exit(exitESRCH)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// controlRequest mirrors internal/supervisor's controlRequest wire shape;
// libreeyectl deliberately does not import internal/supervisor so the
// control protocol stays a documented wire contract, not a shared Go type.
type controlRequest struct {
	Object string `json:"object"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

func send(path string, req controlRequest) error {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, 0x00)
	_, err = conn.Write(data)
	return err
}

func exchange(path string, req controlRequest) (map[string]any, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	data = append(data, 0x00)
	if _, err := conn.Write(data); err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	reply, err := bufio.NewReader(conn).ReadBytes(0x00)
	if err != nil {
		return nil, err
	}
	reply = reply[:len(reply)-1]

	var out map[string]any
	if err := json.Unmarshal(reply, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// runMenu drives an interactive terminal session over the same control
// protocol, adapted from internal/menu's huh-based navigation.
func runMenu(path string) {
	m := menu.New("libreeye control")

	m.AddItem(menu.MenuItem{
		Key:   "1",
		Label: "List cameras",
		Action: func() error {
			reply, err := exchange(path, controlRequest{Object: "camera", Action: "ls"})
			if err != nil {
				return err
			}
			printCameraList(reply)
			menu.WaitForKey(os.Stdin, os.Stdout, "")
			return nil
		},
	})
	m.AddItem(menu.MenuItem{
		Key:   "2",
		Label: "Start a camera",
		Action: func() error {
			id := menu.Input(os.Stdin, os.Stdout, "Camera name")
			if id == "" {
				return nil
			}
			return send(path, controlRequest{Object: "camera", Action: "start", ID: id})
		},
	})
	m.AddItem(menu.MenuItem{
		Key:   "3",
		Label: "Stop a camera",
		Action: func() error {
			id := menu.Input(os.Stdin, os.Stdout, "Camera name")
			if id == "" {
				return nil
			}
			reply, err := exchange(path, controlRequest{Object: "camera", Action: "stop", ID: id})
			if err != nil {
				return err
			}
			fmt.Printf("camera terminated with code %v\n", reply["exitcode"])
			menu.WaitForKey(os.Stdin, os.Stdout, "")
			return nil
		},
	})
	m.AddItem(menu.MenuItem{
		Key:   "4",
		Label: "Run retention sweep now",
		Action: func() error {
			reply, err := exchange(path, controlRequest{Object: "gc", Action: "run"})
			if err != nil {
				return err
			}
			fmt.Printf("retention sweep finished with code %v\n", reply["exitcode"])
			menu.WaitForKey(os.Stdin, os.Stdout, "")
			return nil
		},
	})
	m.AddItem(menu.MenuItem{
		Key:   "5",
		Label: "Run diagnostics",
		Action: func() error {
			if _, err := runDiagnostics(config.DefaultConfigRoot, diagnostics.ModeFull, false, os.Stdout); err != nil {
				return err
			}
			menu.WaitForKey(os.Stdin, os.Stdout, "")
			return nil
		},
	})
	m.AddSeparator()
	m.AddItem(menu.MenuItem{Key: "0", Label: "Exit"})

	if err := m.Display(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("libreeyectl - libreeye daemon control utility")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  libreeyectl camera ls")
	fmt.Println("  libreeyectl camera start <name>")
	fmt.Println("  libreeyectl camera stop <name>")
	fmt.Println("  libreeyectl gc run")
	fmt.Println("  libreeyectl diagnose [-quick] [-json]")
	fmt.Println("  libreeyectl menu")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}
