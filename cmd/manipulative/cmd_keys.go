// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/manipulative/services/manipulative/instrument"
)

// fileKeys is the --json shape of one file.
type fileKeys struct {
	File    string            `json:"file"`
	Sites   []instrument.Site `json:"sites"`
	Skipped []instrument.Skip `json:"skipped,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func newKeysCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "keys <paths...>",
		Short: "List the editable sites and their location keys",
		Long: `Instrument the given files in memory and list every site the overlay
would be able to edit, with the key the commit server expects.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			inputs, err := collectInputs(args)
			if err != nil {
				return err
			}
			in := instrument.New(a.cfg.Instrument, a.logger.Slog())
			outcomes, err := instrumentAll(ctx, in, inputs.sources)
			if err != nil {
				return err
			}

			if asJSON {
				out := make([]fileKeys, 0, len(outcomes))
				for _, o := range outcomes {
					fk := fileKeys{File: o.src.Path, Sites: []instrument.Site{}}
					if o.err != nil {
						fk.Error = o.err.Error()
					} else {
						fk.Sites = append(fk.Sites, o.result.Sites...)
						fk.Skipped = o.result.Skipped
					}
					out = append(out, fk)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			var rows [][]string
			for _, o := range outcomes {
				if o.err != nil {
					a.printer.Warning(fmt.Sprintf("%s: %v", o.src.Display, o.err))
					continue
				}
				for _, s := range o.result.Sites {
					rows = append(rows, []string{
						s.Key.String(),
						string(s.Kind),
						strconv.Itoa(s.Key.LineNumber),
						s.Initial,
					})
				}
				for _, sk := range o.result.Skipped {
					a.printer.Warning(fmt.Sprintf("%s: skipped at offset %d (%s): %s", o.src.Display, sk.Offset, sk.Reason, sk.Detail))
				}
			}
			if len(rows) == 0 {
				a.printer.Title("no editable sites found")
				return nil
			}
			a.printer.Table([]string{"KEY", "KIND", "LINE", "INITIAL"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print sites as JSON")
	return cmd
}
