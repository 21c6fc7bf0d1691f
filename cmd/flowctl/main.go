// flowctl inspects flow documents offline: validate fixtures, print
// computed routes and handles, preview simplification.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fatih/color"
	core "github.com/signalsfoundry/flowcanvas/core"
	"github.com/spf13/cobra"
)

var (
	good = color.New(color.FgGreen)
	bad  = color.New(color.FgRed)
	dim  = color.New(color.Faint)
)

var rootCmd = &cobra.Command{
	Use:           "flowctl",
	Short:         "Inspect and validate flow documents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(validateCmd, routeCmd, simplifyCmd)
	if err := rootCmd.Execute(); err != nil {
		bad.Fprintf(os.Stderr, "flowctl: %v\n", err)
		os.Exit(1)
	}
}

var validateCmd = &cobra.Command{
	Use:   "validate <glob>...",
	Short: "Validate flow documents against the canvas model",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := expandGlobs(args)
		if err != nil {
			return err
		}

		failures := 0
		for _, path := range paths {
			canvas := core.NewCanvas()
			fixture, err := core.LoadFlowFile(canvas, path)
			if err != nil {
				bad.Printf("FAIL %s\n", path)
				dim.Printf("     %v\n", err)
				failures++
				continue
			}
			good.Printf("OK   %s", path)
			dim.Printf("  (%d nodes, %d edges)\n", len(fixture.NodeIDs), len(fixture.EdgeIDs))
		}

		if failures > 0 {
			return fmt.Errorf("%d of %d documents failed validation", failures, len(paths))
		}
		return nil
	},
}

var routeCmd = &cobra.Command{
	Use:   "route <file>",
	Short: "Print the computed route and handles for each edge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		onlyEdge, _ := cmd.Flags().GetString("edge")

		canvas := core.NewCanvas()
		if _, err := core.LoadFlowFile(canvas, args[0]); err != nil {
			return err
		}

		profile := core.DefaultProfile()
		routes := core.NewRouteIndex(canvas, profile)
		routes.RebuildAll()

		edges := canvas.Edges()
		sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

		for _, edge := range edges {
			if onlyEdge != "" && edge.ID != onlyEdge {
				continue
			}
			route := routes.Route(edge.ID)
			handles := routes.Handles(edge.ID)

			fmt.Printf("%s  %s -> %s\n", edge.ID, edge.Source, edge.Target)
			for i, p := range route {
				dim.Printf("  [%d] (%.1f, %.1f)\n", i, p.X, p.Y)
			}
			for _, h := range handles {
				fmt.Printf("  handle: segment %d at (%.1f, %.1f)\n", h.Segment, h.At.X, h.At.Y)
			}
		}
		return nil
	},
}

var simplifyCmd = &cobra.Command{
	Use:   "simplify <file>",
	Short: "Preview waypoint simplification for each routed edge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		canvas := core.NewCanvas()
		if _, err := core.LoadFlowFile(canvas, args[0]); err != nil {
			return err
		}

		profile := core.DefaultProfile()
		edges := canvas.Edges()
		sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

		for _, edge := range edges {
			if len(edge.Waypoints) == 0 {
				continue
			}
			src := canvas.Node(edge.Source)
			tgt := canvas.Node(edge.Target)
			if src == nil || tgt == nil {
				continue
			}

			route := core.BuildRoute(src.Position, tgt.Position, edge.Waypoints)
			simplified := core.SimplifyRoute(route, profile)

			kept := len(simplified) - 2
			dropped := len(edge.Waypoints) - kept
			if dropped > 0 {
				good.Printf("%s: %d waypoint(s) -> %d\n", edge.ID, len(edge.Waypoints), kept)
			} else {
				dim.Printf("%s: %d waypoint(s), nothing to drop\n", edge.ID, len(edge.Waypoints))
			}
		}
		return nil
	},
}

func init() {
	routeCmd.Flags().String("edge", "", "restrict output to one edge ID")
}

// expandGlobs resolves doublestar patterns and plain paths, de-duplicated
// and sorted.
func expandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, statErr := os.Stat(pattern); statErr == nil {
				matches = []string{pattern}
			}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no documents match %v", patterns)
	}
	sort.Strings(paths)
	return paths, nil
}
