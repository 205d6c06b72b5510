package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/frank-ceva/nem/api"
	"github.com/frank-ceva/nem/device"
	"github.com/frank-ceva/nem/diag"
	"github.com/frank-ceva/nem/engine"
)

func main() {
	defer atexit.Exit(0)

	rootCmd := &cobra.Command{
		Use:   "nem",
		Short: "NEM reference toolkit — check and execute NEM programs",
	}

	rootCmd.AddCommand(checkCmd(), runCmd(), devicesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}
}

func newSession(path string, opts api.Options) (*api.Session, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return api.NewSession(path, string(src), opts), nil
}

func checkCmd() *cobra.Command {
	var deviceName string
	cmd := &cobra.Command{
		Use:   "check <program.nem>",
		Short: "Parse and validate a program, printing every diagnostic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(args[0], api.Options{DeviceName: deviceName})
			if err != nil {
				return err
			}
			s.WriteReport(os.Stdout)
			if s.HasErrors() {
				atexit.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceName, "device", "", "device to validate against")
	return cmd
}

func runCmd() *cobra.Command {
	var deviceName string
	var seed int64
	var steps int
	var dump string

	cmd := &cobra.Command{
		Use:   "run <program.nem>",
		Short: "Validate and execute a program on the reference engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := api.Options{DeviceName: deviceName}
			if cmd.Flags().Changed("seed") {
				opts.Policy = engine.RandomPolicy(seed)
			}
			s, err := newSession(args[0], opts)
			if err != nil {
				return err
			}
			if s.HasErrors() {
				s.WriteReport(os.Stdout)
				atexit.Exit(1)
				return nil
			}
			if err := s.Load(); err != nil {
				s.WriteReport(os.Stdout)
				return err
			}

			var runErr error
			if cmd.Flags().Changed("steps") {
				_, runErr = s.Engine().RunBounded(steps)
			} else {
				runErr = s.Engine().Run()
			}
			s.WriteReport(os.Stdout)
			if runErr != nil {
				return runErr
			}

			if dump != "" {
				return dumpBuffer(s, dump)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceName, "device", "", "device to execute on")
	cmd.Flags().Int64Var(&seed, "seed", 0, "use the randomized scheduling policy with this seed")
	cmd.Flags().IntVar(&steps, "steps", 0, "run at most this many tasks")
	cmd.Flags().StringVar(&dump, "dump", "", "print a buffer's bytes: name[:offset:length]")
	return cmd
}

// dumpBuffer prints name[:offset:length] as a hex block.
func dumpBuffer(s *api.Session, spec string) error {
	parts := strings.Split(spec, ":")
	name := parts[0]
	offset, length := int64(0), int64(64)
	if len(parts) == 3 {
		if _, err := fmt.Sscanf(parts[1], "%d", &offset); err != nil {
			return fmt.Errorf("bad offset %q", parts[1])
		}
		if _, err := fmt.Sscanf(parts[2], "%d", &length); err != nil {
			return fmt.Errorf("bad length %q", parts[2])
		}
	}
	data, err := s.ReadBuffer(name, offset, length)
	if err != nil {
		return err
	}
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Printf("%s+%04x:", name, offset+int64(i))
		for _, b := range data[i:end] {
			fmt.Printf(" %02x", b)
		}
		fmt.Println()
	}
	return nil
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices <config.nemdev>",
		Short: "Resolve a device configuration and print every device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var col diag.Collector
			res := device.Resolve(args[0], device.FSLoader{}, &col)
			for _, d := range col.Diagnostics() {
				fmt.Fprintln(os.Stderr, d.String())
			}
			for _, name := range res.Names() {
				dev, _ := res.Device(name)
				if dev.Abstract {
					fmt.Printf("%s (abstract, spec %s)\n", name, dev.SpecVersion)
					continue
				}
				t := dev.Topology
				fmt.Printf("%s (spec %s): %d engines, l2 %d bytes, l1 %d bytes\n",
					name, dev.SpecVersion, t.Engines, t.L2SizeBytes, t.L1SizeBytes)
				fmt.Printf("  mandatory: %s\n", strings.Join(device.SortedRefs(dev.Mandatory), ", "))
				if len(dev.Extended) > 0 {
					fmt.Printf("  extended:  %s\n", strings.Join(device.SortedRefs(dev.Extended), ", "))
				}
			}
			if col.HasErrors() {
				atexit.Exit(1)
			}
			return nil
		},
	}
}
