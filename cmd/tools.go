package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/okian/casve/internal/domain/progress"
	"github.com/okian/casve/internal/domain/prompt"
	"github.com/okian/casve/internal/domain/worksheet"
)

// readWorksheet decodes a session or a bare {step0, step1, ...} document.
// Structural validation is left to the caller.
func readWorksheet(path string) (*worksheet.Session, error) {
	if path == "" {
		return nil, errors.New("--file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worksheet: %w", err)
	}
	var s worksheet.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode worksheet %s: %w", path, err)
	}
	worksheet.Normalize(&s)
	return &s, nil
}

func newPromptCmd() *cobra.Command {
	var (
		file       string
		withSystem bool
	)
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the option generation prompt for a worksheet file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := readWorksheet(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if withSystem {
				fmt.Fprintln(out, prompt.System)
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, prompt.ForSession(s))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "worksheet JSON file")
	cmd.Flags().BoolVar(&withSystem, "system", false, "print the system prompt first")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report missing required fields per step for a worksheet file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := readWorksheet(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ok := color.New(color.FgGreen)
			bad := color.New(color.FgRed)
			warn := color.New(color.FgYellow)

			if s.SessionID == "" {
				s.SessionID = "(none)"
			}
			if err := worksheet.Validate(s); err != nil {
				warn.Fprintf(out, "invalid worksheet: %v\n", err)
			}
			rep := progress.Build(s)
			for _, st := range rep.Steps {
				if st.Complete {
					ok.Fprintf(out, "ok      step %d %s\n", st.Step, st.Name)
					continue
				}
				bad.Fprintf(out, "missing step %d %s: %s\n", st.Step, st.Name, strings.Join(st.Missing, ", "))
			}
			fmt.Fprintf(out, "reachable step: %d\n", rep.Reachable)
			if rep.OptionsStale {
				warn.Fprintln(out, "generated options are stale")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "worksheet JSON file")
	return cmd
}
