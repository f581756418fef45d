package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vonshlovens/tripsync/internal/db"
	"github.com/vonshlovens/tripsync/internal/parser"
)

func tripsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "trips",
		Short: "List local trips",
		Long:  `Lists trips in the local store, trips in progress first and most recently edited on top.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			trips, err := a.store.FetchTrips(ctx, db.Filter{IncludeDeleted: all})
			if err != nil {
				return err
			}
			if len(trips) == 0 {
				fmt.Println("No trips yet.")
				return nil
			}

			sort.Slice(trips, func(i, j int) bool {
				if oi, oj := trips[i].Status.Order(), trips[j].Status.Order(); oi != oj {
					return oi < oj
				}
				return trips[i].UpdatedAt.After(trips[j].UpdatedAt)
			})

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tUPDATED\tTITLE")
			for _, t := range trips {
				status := string(t.Status)
				if t.DeletedAt != nil {
					status += " (deleted)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, status, t.UpdatedAt.Local().Format("2006-01-02 15:04"), t.Title)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include deleted trips")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		formatName string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "export <trip-id>",
		Short: "Export a trip as a Markdown journal",
		Long:  `Writes a trip and its records as Markdown with YAML or TOML front matter.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid trip id: %w", err)
			}
			format, err := parser.ParseFormat(formatName)
			if err != nil {
				return err
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			trip, err := a.store.GetTrip(ctx, id)
			if err != nil {
				return err
			}
			if trip == nil || trip.DeletedAt != nil {
				return fmt.Errorf("trip %s not found", id)
			}

			records, err := a.store.FetchRecords(ctx, db.Filter{TripID: &id})
			if err != nil {
				return err
			}

			journal, err := parser.RenderTrip(trip, records, format)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				fmt.Print(journal)
				return nil
			}
			if err := os.WriteFile(output, []byte(journal), 0644); err != nil {
				return fmt.Errorf("failed to write journal: %w", err)
			}
			fmt.Printf("Exported %q to %s\n", trip.Title, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&formatName, "format", "f", "yaml", "front matter format (yaml or toml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Import Markdown journals as draft trips",
		Long:  `Creates a draft trip from each journal file. The trips are pushed on the next sync.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			now := time.Now()
			trips := make([]*db.Trip, 0, len(args))
			for _, path := range args {
				journal, err := parser.ParseFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				trip, err := journal.NewTrip(now)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				trips = append(trips, trip)
			}

			err = a.store.Update(ctx, func(tx *db.Tx) error {
				for _, trip := range trips {
					if err := tx.UpsertTrip(ctx, trip); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to save trips: %w", err)
			}

			for i, trip := range trips {
				fmt.Printf("Imported %s as %q (%s)\n", filepath.Base(args[i]), trip.Title, trip.ID)
			}
			return nil
		},
	}
}
